// Package transport provides the HTTP plumbing shared by the platform
// binding and the award enricher: JSON request helpers, authentication,
// and the mapping from HTTP status codes onto the error taxonomy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sparctools/metasync/pkg/errors"
)

// DefaultTimeout bounds each remote call.
const DefaultTimeout = 30 * time.Second

// Authenticator adds credentials to an outgoing request.
type Authenticator interface {
	Apply(req *http.Request) error
}

// TokenAuth authenticates with a bearer token.
type TokenAuth struct {
	Token string
}

// Apply implements Authenticator.
func (a TokenAuth) Apply(req *http.Request) error {
	if a.Token == "" {
		return &errors.ValidationError{Field: "token", Message: "API token is required"}
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// Client is a JSON-over-HTTP client bound to one base URL.
type Client struct {
	http *http.Client
	base string
	auth Authenticator
}

// New returns a client for the base URL. A nil auth sends unauthenticated
// requests; a zero timeout uses DefaultTimeout.
func New(base string, auth Authenticator, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		base: strings.TrimRight(base, "/"),
		auth: auth,
	}
}

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE request with an optional JSON body.
func (c *Client) Delete(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodDelete, path, nil, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.WrapRemote(strings.ToLower(method), path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.WrapRemote(strings.ToLower(method), path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if err := c.auth.Apply(req); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapRemote(strings.ToLower(method), path, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp, method, path); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapRemote(strings.ToLower(method), path, err)
	}
	return nil
}

// statusError maps non-2xx responses onto the error taxonomy. The body is
// read so the message survives into logs.
func statusError(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.NewNotFoundError("resource", path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &errors.AuthorizationError{DatasetID: path}
	}
	return errors.NewRemoteError(strings.ToLower(method), path, resp.StatusCode,
		errors.New(strings.TrimSpace(string(msg))))
}
