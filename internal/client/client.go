// Package client is a typed HTTP client for the assessment API, including
// decoding of the server-sent event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// UserHeader carries the caller identity.
const UserHeader = "X-User-ID"

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// SubmitRequest is the body of POST /v1/assessments.
type SubmitRequest struct {
	InputKind    string   `json:"inputKind"`
	Text         string   `json:"text,omitempty"`
	RecordingRef string   `json:"recordingRef,omitempty"`
	Goals        []string `json:"goals,omitempty"`
}

// Submission is the response to a submit.
type Submission struct {
	AssessmentID string `json:"assessmentId"`
	TraceID      string `json:"traceId"`
	StreamURL    string `json:"streamUrl"`
}

// Assessment is the wire shape of an assessment.
type Assessment struct {
	ID           string             `json:"id"`
	InputKind    string             `json:"inputKind"`
	Text         string             `json:"text,omitempty"`
	RecordingRef string             `json:"recordingRef,omitempty"`
	Goals        []string           `json:"goals"`
	Status       string             `json:"status"`
	Rubric       map[string]float64 `json:"rubric,omitempty"`
	FeedbackText string             `json:"feedbackText,omitempty"`
	TraceID      string             `json:"traceId"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client calls the API on behalf of one user.
type Client struct {
	baseURL string
	user    string
	http    *http.Client
	stream  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for plain requests and streams.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
			c.stream = h
		}
	}
}

// WithTimeout sets the timeout of plain requests. Streams are bounded by
// their context only.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.stream.Transport}
		}
	}
}

// New creates a client for baseURL acting as user.
func New(baseURL, user string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		stream:  &http.Client{},
	}
	c.http = &http.Client{Timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// As returns a copy of c acting as another user.
func (c *Client) As(user string) *Client {
	cp := *c
	cp.user = user
	return &cp
}

// Submit creates an assessment.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	var sub Submission
	err := c.do(ctx, http.MethodPost, "/v1/assessments", req, &sub)
	return sub, err
}

// Get reads one assessment.
func (c *Client) Get(ctx context.Context, id string) (Assessment, error) {
	var a Assessment
	err := c.do(ctx, http.MethodGet, "/v1/assessments/"+url.PathEscape(id), nil, &a)
	return a, err
}

// List reads a page of assessments, newest first. Zero values use server defaults.
func (c *Client) List(ctx context.Context, page, limit int) ([]Assessment, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/assessments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Assessment
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Balance reads the caller's credits.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var out struct {
		Credits int64 `json:"credits"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/credits", nil, &out)
	return out.Credits, err
}

// Health checks that the service is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(UserHeader, c.user)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	}
	return apiErr
}
