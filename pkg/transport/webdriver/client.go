// Package webdriver drives a target through a W3C WebDriver (classic)
// server such as tauri-driver or Appium. Scripts run through the execute
// endpoints; named operations call the bridge plugin through the page's
// invoke primitive.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is a WebDriver error response.
type Error struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("webdriver %d %s: %s", e.Status, e.Code, e.Message)
}

// W3C error codes the transport reacts to.
const (
	codeInvalidSession = "invalid session id"
	codeNoSuchWindow   = "no such window"
	codeScriptTimeout  = "script timeout"
	codeJavascript     = "javascript error"
	codeUnknownCommand = "unknown command"
)

// sessionGone reports whether err means the remote session no longer
// exists.
func sessionGone(err error) bool {
	var wdErr *Error
	if !errors.As(err, &wdErr) {
		return false
	}
	return wdErr.Code == codeInvalidSession || wdErr.Code == codeNoSuchWindow
}

// client speaks the JSON wire format: every body is an object and every
// answer wraps its payload in "value".
type client struct {
	base string
	http *http.Client
}

func newClient(base string, hc *http.Client) *client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &client{base: strings.TrimSuffix(base, "/"), http: hc}
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("decode %s %s (%s): %w", method, path, resp.Status, err)
		}
	}
	if resp.StatusCode >= 400 {
		wdErr := &Error{Status: resp.StatusCode}
		if len(envelope.Value) > 0 {
			_ = json.Unmarshal(envelope.Value, wdErr)
		}
		if wdErr.Code == "" {
			wdErr.Code = http.StatusText(resp.StatusCode)
		}
		return wdErr
	}
	if out == nil || len(envelope.Value) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Value, out)
}

type newSessionResult struct {
	SessionID    string          `json:"sessionId"`
	Capabilities json.RawMessage `json:"capabilities"`
}

func (c *client) newSession(ctx context.Context, caps any) (newSessionResult, error) {
	var out newSessionResult
	body := map[string]any{"capabilities": map[string]any{"alwaysMatch": caps}}
	if err := c.do(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return out, err
	}
	if out.SessionID == "" {
		return out, errors.New("webdriver: new session returned no session id")
	}
	return out, nil
}

func (c *client) deleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+id, nil, nil)
}

type executeBody struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}

func (c *client) executeAsync(ctx context.Context, id, script string, args []any, out any) error {
	if args == nil {
		args = []any{}
	}
	return c.do(ctx, http.MethodPost, "/session/"+id+"/execute/async", executeBody{Script: script, Args: args}, out)
}

func (c *client) executeSync(ctx context.Context, id, script string, args []any, out any) error {
	if args == nil {
		args = []any{}
	}
	return c.do(ctx, http.MethodPost, "/session/"+id+"/execute/sync", executeBody{Script: script, Args: args}, out)
}
