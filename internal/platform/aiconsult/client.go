package aiconsult

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a remote consultant engine over HTTP. Requests and
// responses are JSON; any transport failure or non-2xx status maps to
// ErrUnavailable so callers can degrade instead of failing the write.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an HTTP consultant for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type replyRequest struct {
	Transcript []Turn `json:"transcript"`
}

type replyResponse struct {
	Message string `json:"message"`
}

type assessRequest struct {
	Transcript []Turn `json:"transcript"`
}

type analyzeRequest struct {
	Name       string `json:"name"`
	ReportType string `json:"report_type"`
}

type analyzeResponse struct {
	Summary string `json:"summary"`
}

func (c *Client) Reply(ctx context.Context, transcript []Turn) (string, error) {
	var out replyResponse
	if err := c.post(ctx, "/v1/reply", replyRequest{Transcript: transcript}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) Assess(ctx context.Context, transcript []Turn) (*Assessment, error) {
	var out Assessment
	if err := c.post(ctx, "/v1/assess", assessRequest{Transcript: transcript}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AnalyzeReport(ctx context.Context, name, reportType string) (string, error) {
	var out analyzeResponse
	if err := c.post(ctx, "/v1/analyze", analyzeRequest{Name: name, ReportType: reportType}, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
