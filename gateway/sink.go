package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPSink posts responses through the platform's REST API.
type HTTPSink struct {
	endpoint string
	token    string
	client   *http.Client
	log      *zap.Logger
}

// NewHTTPSink creates a sink posting to the given endpoint with a bearer
// token.
func NewHTTPSink(endpoint, token string, log *zap.Logger) *HTTPSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPSink{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

type postRequest struct {
	Channel string `json:"channel"`
	Thread  string `json:"thread_ts,omitempty"`
	Text    string `json:"text"`
}

type postResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Post sends text to a channel thread.
func (s *HTTPSink) Post(ctx context.Context, channel, thread, text string) error {
	body, err := json.Marshal(postRequest{Channel: channel, Thread: thread, Text: text})
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("post message: status %d: %s", resp.StatusCode, data)
	}
	var pr postResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("decode post response: %w", err)
	}
	if !pr.OK {
		return fmt.Errorf("post message rejected: %s", pr.Error)
	}
	s.log.Debug("response posted", zap.String("channel", channel), zap.String("thread", thread))
	return nil
}
