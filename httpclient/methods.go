package httpclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

type RequestOption func(*Request)

// SkipAuth sends the request without a bearer token and returns a 401 as is.
func SkipAuth() RequestOption {
	return func(r *Request) {
		r.SkipAuth = true
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set(key, value)
	}
}

func WithQuery(key, value string) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = make(url.Values)
		}
		r.Query.Add(key, value)
	}
}

func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) (*Response, error) {
	return c.call(ctx, http.MethodGet, path, nil, out, opts)
}

func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) (*Response, error) {
	return c.call(ctx, http.MethodPost, path, bodyOrEmpty(body), out, opts)
}

func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) (*Response, error) {
	return c.call(ctx, http.MethodPut, path, bodyOrEmpty(body), out, opts)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) (*Response, error) {
	return c.call(ctx, http.MethodPatch, path, bodyOrEmpty(body), out, opts)
}

func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) (*Response, error) {
	return c.call(ctx, http.MethodDelete, path, nil, out, opts)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, opts []RequestOption) (*Response, error) {
	req := Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&req)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Decode(out); err != nil {
		return resp, errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return resp, nil
}

// bodyOrEmpty sends {} for a nil body on methods that carry one.
func bodyOrEmpty(body any) any {
	if body == nil {
		return struct{}{}
	}
	return body
}

func asHTTPError(err error, target **HTTPError) bool {
	return errors.As(err, target)
}
