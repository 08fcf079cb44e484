// Package quore is a client for the Quore summarization API.
package quore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/validator"
)

const (
	ServiceName    = "quore"
	DefaultTimeout = 60 * time.Second
)

var (
	ErrMissingBaseURL   = errors.New("quore: base url is required")
	ErrMissingProjectID = errors.New("quore: project id is required")
)

//nolint:tagliatelle
type SummarizeRequest struct {
	PromptID string         `json:"prompt_id" validate:"notblank"`
	Text     string         `json:"text"      validate:"notblank"`
	Query    string         `json:"query"`
	Labels   map[string]any `json:"labels"`
}

//nolint:tagliatelle
type SummarizeResponse struct {
	Summary    string         `json:"summary"`
	PromptID   string         `json:"prompt_id,omitempty"`
	Labels     map[string]any `json:"labels,omitempty"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
	TokensUsed int            `json:"tokens_used,omitempty"`
}

type SummarizeOption func(*SummarizeRequest)

func WithLabels(labels map[string]any) SummarizeOption {
	return func(r *SummarizeRequest) {
		if labels != nil {
			r.Labels = labels
		}
	}
}

func WithQuery(query string) SummarizeOption {
	return func(r *SummarizeRequest) {
		r.Query = query
	}
}

type Client struct {
	http httpclient.Requester
}

func New(baseURL string, opts ...httpclient.Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	defaults := []httpclient.Option{
		httpclient.WithServiceName(ServiceName),
		httpclient.WithTimeout(DefaultTimeout),
	}

	return NewWithRequester(httpclient.New(baseURL, append(defaults, opts...)...)), nil
}

func NewWithRequester(requester httpclient.Requester) *Client {
	return &Client{http: requester}
}

// Summarize runs the prompt promptID of project projectID over text.
func (c *Client) Summarize(
	ctx context.Context,
	projectID string,
	promptID string,
	text string,
	opts ...SummarizeOption,
) (*SummarizeResponse, error) {
	if projectID == "" {
		return nil, ErrMissingProjectID
	}

	req := SummarizeRequest{
		PromptID: promptID,
		Text:     text,
		Query:    "",
		Labels:   map[string]any{},
	}

	for _, opt := range opts {
		opt(&req)
	}

	if err := validator.Struct(req); err != nil {
		return nil, fmt.Errorf("quore: %w", err)
	}

	path := fmt.Sprintf("/projects/%s/summarize", url.PathEscape(projectID))

	resp, err := httpclient.PostJSON[SummarizeResponse](ctx, c.http, path, req)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) Close() {
	if closer, ok := c.http.(interface{ Close() }); ok {
		closer.Close()
	}
}
