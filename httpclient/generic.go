//nolint:ireturn
package httpclient

import (
	"context"
	"net/http"
)

func GetJSON[T any](ctx context.Context, c Requester, path string, opts ...RequestOption) (T, error) {
	var result T
	err := c.Do(ctx, http.MethodGet, path, nil, &result, opts...)

	return result, err
}

func PostJSON[T any](ctx context.Context, c Requester, path string, body any, opts ...RequestOption) (T, error) {
	var result T
	err := c.Do(ctx, http.MethodPost, path, body, &result, opts...)

	return result, err
}

func PutJSON[T any](ctx context.Context, c Requester, path string, body any, opts ...RequestOption) (T, error) {
	var result T
	err := c.Do(ctx, http.MethodPut, path, body, &result, opts...)

	return result, err
}

func PatchJSON[T any](ctx context.Context, c Requester, path string, body any, opts ...RequestOption) (T, error) {
	var result T
	err := c.Do(ctx, http.MethodPatch, path, body, &result, opts...)

	return result, err
}

func DeleteJSON[T any](ctx context.Context, c Requester, path string, body any, opts ...RequestOption) (T, error) {
	var result T
	err := c.Do(ctx, http.MethodDelete, path, body, &result, opts...)

	return result, err
}

func DoJSON[T any](ctx context.Context, c Requester, method, path string, body any, opts ...RequestOption) (T, error) {
	var result T
	err := c.Do(ctx, method, path, body, &result, opts...)

	return result, err
}
