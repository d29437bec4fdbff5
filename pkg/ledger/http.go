package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
)

const defaultTimeout = 15 * time.Second

// HTTPClient is the durable implementation backed by the remote ledger
// service. Availability failures surface as LEDGER_UNAVAILABLE; the caller
// decides whether that is fatal to its operation.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) AppendEvent(ctx context.Context, ev Event) (Receipt, error) {
	if err := validate(ev); err != nil {
		return Receipt{}, err
	}
	if ev.SchemaVersion == "" {
		ev.SchemaVersion = SchemaVersion
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return Receipt{}, domain.Errorf(domain.CodeEncoding, "marshal ledger event: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ledger/events", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, domain.Errorf(domain.CodeInternal, "build ledger request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.IdempotencyKey)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, domain.Errorf(domain.CodeLedgerUnavailable, "ledger append: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Receipt{}, domain.Errorf(domain.CodeLedgerUnavailable, "ledger append: http %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return Receipt{}, domain.Errorf(domain.CodeInternal, "ledger append rejected: http %d: %v", resp.StatusCode, errBody)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, domain.Errorf(domain.CodeLedgerUnavailable, "decode ledger receipt: %v", err)
	}
	if receipt.IdempotencyKey == "" {
		receipt.IdempotencyKey = ev.IdempotencyKey
	}
	return receipt, nil
}
