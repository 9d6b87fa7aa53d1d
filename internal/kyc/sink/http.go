package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/pkg/platform/sentinel"
)

// HTTPSink POSTs the submission as JSON to a KYC intake endpoint. Any 2xx is
// acceptance; a 409 means the endpoint already took this session's
// submission under the same idempotency key.
type HTTPSink struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewHTTPSink(url, token string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Name() string {
	return "http"
}

func (s *HTTPSink) Deliver(ctx context.Context, sub *models.Submission) error {
	body, err := encodeSubmission(sub, true)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build intake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sub.SessionID.String())
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post submission: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("intake endpoint already holds session %s: %w", sub.SessionID, sentinel.ErrConflict)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("intake endpoint returned %d", resp.StatusCode)
	}
	return nil
}
