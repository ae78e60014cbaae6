package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxErrorBody = 512

// TransportError is the only failure kind the console expects from the
// executor: the network was unreachable, the status was not 2xx, or the body
// could not be decoded.
type TransportError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %s", e.Op, e.Method, e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type ExecutorClient struct {
	baseURL string
	prefix  string
	http    *http.Client
	log     logrus.FieldLogger
}

func NewExecutorClient(cfg APIConfig, log logrus.FieldLogger) *ExecutorClient {
	if log == nil {
		log = discardLogger()
	}
	return &ExecutorClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		prefix:  cfg.prefix(),
		http:    &http.Client{Timeout: cfg.timeout()},
		log:     log,
	}
}

func (c *ExecutorClient) BaseURL() string {
	return c.baseURL + c.prefix
}

func (c *ExecutorClient) do(ctx context.Context, op, method, path string, payload any, out any) error {
	target := c.baseURL + c.prefix + path
	terr := &TransportError{Op: op, Method: method, URL: target}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			terr.Err = err
			return terr
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		terr.Err = err
		return terr
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log := c.log.WithFields(logrus.Fields{"op": op, "method": method, "url": target, "request_id": requestID})
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Debug("executor request failed")
		terr.Err = err
		return terr
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		terr.StatusCode = resp.StatusCode
		terr.Err = err
		return terr
	}
	log.WithField("status", resp.StatusCode).Debug("executor response")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		terr.StatusCode = resp.StatusCode
		terr.Body = truncateStatus(strings.TrimSpace(errorDetail(data)), maxErrorBody)
		return terr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		terr.StatusCode = resp.StatusCode
		terr.Err = fmt.Errorf("decode response: %w", err)
		return terr
	}
	return nil
}

// errorDetail unwraps the backend's {"detail": "..."} error envelope.
func errorDetail(body []byte) string {
	var envelope struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != nil {
		if s, ok := envelope.Detail.(string); ok {
			return s
		}
		out, _ := json.Marshal(envelope.Detail)
		return string(out)
	}
	return string(body)
}

func (c *ExecutorClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExecutorClient) Groups(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := c.do(ctx, "list groups", http.MethodGet, "/inventory/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExecutorClient) Hosts(ctx context.Context) ([]Host, error) {
	var out []Host
	if err := c.do(ctx, "list hosts", http.MethodGet, "/inventory/hosts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExecutorClient) Playbooks(ctx context.Context) ([]Playbook, error) {
	var out []Playbook
	if err := c.do(ctx, "list playbooks", http.MethodGet, "/playbooks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExecutorClient) Tags(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, "list tags", http.MethodGet, "/tags", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Submit starts a run and returns its execution id.
func (c *ExecutorClient) Submit(ctx context.Context, req ExecutionRequest) (string, error) {
	var out struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := c.do(ctx, "submit", http.MethodPost, "/execute", req, &out); err != nil {
		return "", err
	}
	if out.ExecutionID == "" {
		return "", &TransportError{
			Op:     "submit",
			Method: http.MethodPost,
			URL:    c.BaseURL() + "/execute",
			Err:    errors.New("response carried no execution_id"),
		}
	}
	return out.ExecutionID, nil
}

func (c *ExecutorClient) FetchStatus(ctx context.Context, executionID string) (StatusReport, error) {
	var out StatusReport
	err := c.do(ctx, "fetch status", http.MethodGet, "/executions/"+url.PathEscape(executionID), nil, &out)
	if err != nil {
		return StatusReport{}, err
	}
	if out.ExecutionID == "" {
		out.ExecutionID = executionID
	}
	return out, nil
}

// Cancel asks the executor to stop a run. The response body is not used.
func (c *ExecutorClient) Cancel(ctx context.Context, executionID string) error {
	return c.do(ctx, "cancel", http.MethodDelete, "/executions/"+url.PathEscape(executionID), nil, nil)
}

func (c *ExecutorClient) Executions(ctx context.Context) ([]StatusReport, error) {
	var out []StatusReport
	if err := c.do(ctx, "list executions", http.MethodGet, "/executions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
