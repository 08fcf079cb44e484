// Package vaulta is a client for the Vaulta asset storage API.
package vaulta

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
)

const (
	ServiceName    = "vaulta"
	DefaultTimeout = 30 * time.Second
)

var (
	ErrMissingBaseURL = errors.New("vaulta: base url is required")
	ErrMissingAssetID = errors.New("vaulta: asset id is required")
	ErrInvalidState   = errors.New("vaulta: invalid asset state")
)

type AssetState string

const (
	AssetStatePending    AssetState = "pending"
	AssetStateProcessing AssetState = "processing"
	AssetStateCompleted  AssetState = "completed"
	AssetStateFailed     AssetState = "failed"
	AssetStateCancelled  AssetState = "cancelled"
)

func (s AssetState) Valid() bool {
	switch s {
	case AssetStatePending, AssetStateProcessing, AssetStateCompleted, AssetStateFailed, AssetStateCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the asset will not change state again.
func (s AssetState) Terminal() bool {
	return s == AssetStateCompleted || s == AssetStateFailed || s == AssetStateCancelled
}

//nolint:tagliatelle
type AssetResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Filename     string         `json:"filename"`
	MimeType     string         `json:"mime_type"`
	Size         int64          `json:"size"`
	Labels       map[string]any `json:"labels"`
	State        AssetState     `json:"state"`
	StateMessage string         `json:"state_message,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
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

func (c *Client) GetAsset(ctx context.Context, assetID string) (*AssetResponse, error) {
	if assetID == "" {
		return nil, ErrMissingAssetID
	}

	asset, err := httpclient.GetJSON[AssetResponse](ctx, c.http, "/assets/"+url.PathEscape(assetID))
	if err != nil {
		return nil, err
	}

	asset.State = AssetState(strings.ToLower(string(asset.State)))
	if !asset.State.Valid() {
		return nil, ErrInvalidState
	}

	if asset.Labels == nil {
		asset.Labels = map[string]any{}
	}

	return &asset, nil
}

func (c *Client) Close() {
	if closer, ok := c.http.(interface{ Close() }); ok {
		closer.Close()
	}
}
