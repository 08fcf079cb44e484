// Package sendly is a client for the Sendly email API.
package sendly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/validator"
)

const (
	ServiceName    = "sendly"
	DefaultTimeout = 30 * time.Second

	pathSendEmail = "/emails/send"
)

var (
	ErrMissingBaseURL = errors.New("sendly: base url is required")
	ErrNilRequest     = errors.New("sendly: request is required")
)

//nolint:tagliatelle
type SendEmailRequest struct {
	Name              string         `json:"name"               validate:"notblank"`
	TenantID          string         `json:"tenant_id"          validate:"notblank"`
	FromEmail         string         `json:"from_email"         validate:"required,email"`
	Subject           string         `json:"subject"            validate:"notblank"`
	HTML              string         `json:"html"               validate:"notblank"`
	To                []string       `json:"to"                 validate:"min=1,dive,email"`
	TemplateVariables map[string]any `json:"template_variables"`
}

//nolint:tagliatelle
type SendEmailResponse struct {
	ID                string     `json:"id"`
	FromEmail         string     `json:"from_email"`
	ToEmail           string     `json:"to_email"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	Status            string     `json:"status"`
	ProviderID        string     `json:"provider_id"`
	ProviderMessageID string     `json:"provider_message_id"`
	TenantID          string     `json:"tenant_id"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
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

// SendEmail renders and sends one email to every recipient in req.To.
func (c *Client) SendEmail(ctx context.Context, req *SendEmailRequest) (*SendEmailResponse, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	if err := validator.Struct(req); err != nil {
		return nil, fmt.Errorf("sendly: %w", err)
	}

	body := *req
	if body.TemplateVariables == nil {
		body.TemplateVariables = map[string]any{}
	}

	resp, err := httpclient.PostJSON[SendEmailResponse](ctx, c.http, pathSendEmail, body)
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
