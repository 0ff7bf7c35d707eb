// Package api is the REST side of the backend contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("ailearning.client.api")

const requestIDHeader = "X-Request-ID"

// CredentialFunc returns the bearer token to attach, or "" for anonymous calls.
type CredentialFunc func() string

// Error is a non-2xx response. It matches errors.Unauthorized for 401 and 403,
// errors.NotFound for 404 and errors.AlreadyExists for 409.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api: %d", e.StatusCode)
}

func (e *Error) Is(target error) bool {
	switch target {
	case errors.Unauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case errors.NotFound:
		return e.StatusCode == http.StatusNotFound
	case errors.AlreadyExists:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Client talks to the backend on behalf of the current session.
type Client struct {
	baseURL    string
	http       *http.Client
	credential CredentialFunc

	mu         sync.Mutex
	onRejected RejectedFunc
}

// RejectedFunc receives the credential the server refused and the status code.
type RejectedFunc func(credential string, statusCode int)

func New(baseURL string, httpClient *http.Client, credential CredentialFunc) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if credential == nil {
		credential = func() string { return "" }
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       httpClient,
		credential: credential,
	}
}

// OnRejected registers the callback fired when an authenticated call comes back
// 401 or 403. It runs on the caller's goroutine before the error is returned and
// is told which credential the request carried, which may no longer be current.
func (c *Client) OnRejected(fn RejectedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRejected = fn
}

func (c *Client) rejected(credential string, statusCode int) {
	c.mu.Lock()
	fn := c.onRejected
	c.mu.Unlock()
	if fn != nil {
		fn(credential, statusCode)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	return c.send(ctx, true, method, path, query, body, out)
}

// send performs one call. With notify unset a 401 or 403 is returned without
// firing the rejection hook.
func (c *Client) send(ctx context.Context, notify bool, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Annotate(err, "encoding request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Trace(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	token := c.credential()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Annotatef(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotatef(err, "%s %s: reading body", method, path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, raw)
		logger.Debugf("%s %s request_id=%s status=%d", method, path, requestID, resp.StatusCode)
		if notify && token != "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			logger.Warningf("credential rejected by %s %s (%d)", method, path, resp.StatusCode)
			c.rejected(token, resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Annotatef(err, "%s %s: decoding response", method, path)
	}
	return nil
}

func decodeError(status int, raw []byte) *Error {
	apiErr := &Error{StatusCode: status}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return apiErr
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &payload) == nil {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
		return apiErr
	}
	var text string
	if json.Unmarshal(trimmed, &text) == nil {
		apiErr.Message = text
		return apiErr
	}
	apiErr.Message = string(trimmed)
	return apiErr
}
