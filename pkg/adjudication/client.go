// Package adjudication is the client for the ClaimsIQ adjudication service.
// The hand-off is a best-effort side effect of claim submission: a failure
// here never fails the claim, it degrades to a queued retry.
package adjudication

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
)

const (
	// PendingRetryID marks a claim whose hand-off is deferred to the outbox.
	PendingRetryID = "PENDING_RETRY"
	StatusQueued   = "QUEUED"
)

type Result struct {
	AdjudicationID string `json:"adjudication_id"`
	Status         string `json:"status"`
}

type Client interface {
	SubmitClaim(ctx context.Context, payload map[string]any) (Result, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SubmitClaim(ctx context.Context, payload map[string]any) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, domain.Errorf(domain.CodeEncoding, "marshal adjudication payload: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/claims/ingest", bytes.NewReader(body))
	if err != nil {
		return Result{}, domain.Errorf(domain.CodeInternal, "build adjudication request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, domain.Errorf(domain.CodeDownstreamUnavailable, "adjudication submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, domain.Errorf(domain.CodeDownstreamUnavailable, "adjudication submit: http %d", resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, domain.Errorf(domain.CodeDownstreamUnavailable, "decode adjudication response: %v", err)
	}
	return out, nil
}
