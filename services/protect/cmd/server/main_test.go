package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/terryholliday/proveniq-protect/pkg/ledger"
)

func TestBearerAuth(t *testing.T) {
	handler := bearerAuth("sekrit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))

	req := httptest.NewRequest("POST", "/protect/quotes", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/protect/quotes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/protect/quotes", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Fatalf("expected 204 with correct token, got %d", rec.Code)
	}
}

func TestBearerAuthDisabledWhenUnset(t *testing.T) {
	handler := bearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/protect/quotes", nil))
	if rec.Code != 204 {
		t.Fatalf("expected auth disabled with empty token, got %d", rec.Code)
	}
}

func TestServiceRecordMirrorIdempotent(t *testing.T) {
	lc := ledger.NewMemoryClient()
	handler := serviceRecordHandler(lc)

	record := map[string]any{
		"asset_id":  "asset-1",
		"summary":   "full service",
		"signature": "sig-ignore-me",
	}
	body, _ := json.Marshal(record)

	var first struct {
		Status  string         `json:"status"`
		Hash    string         `json:"canonical_hash_hex"`
		Receipt ledger.Receipt `json:"receipt"`
	}
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/integration/service-record", bytes.NewReader(body)))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if first.Status != "ok" || first.Hash == "" {
		t.Fatalf("unexpected response: %+v", first)
	}

	// same record again: same hash, same receipt, one stored event
	var second struct {
		Hash    string         `json:"canonical_hash_hex"`
		Receipt ledger.Receipt `json:"receipt"`
	}
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/integration/service-record", bytes.NewReader(body)))
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if second.Hash != first.Hash {
		t.Fatalf("hash not deterministic: %s vs %s", first.Hash, second.Hash)
	}
	if second.Receipt.LedgerEventID != first.Receipt.LedgerEventID {
		t.Fatalf("expected idempotent receipt")
	}
	if n := len(lc.Events()); n != 1 {
		t.Fatalf("expected one stored event, got %d", n)
	}

	// signature fields do not change the hash
	delete(record, "signature")
	body, _ = json.Marshal(record)
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/integration/service-record", bytes.NewReader(body)))
	var third struct {
		Hash string `json:"canonical_hash_hex"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &third); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if third.Hash != first.Hash {
		t.Fatalf("signature leaked into hash: %s vs %s", first.Hash, third.Hash)
	}
}

func TestServiceRecordMirrorRequiresAssetID(t *testing.T) {
	handler := serviceRecordHandler(ledger.NewMemoryClient())
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/integration/service-record", bytes.NewReader([]byte(`{"summary":"x"}`))))
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTransitHandoffMirror(t *testing.T) {
	lc := ledger.NewMemoryClient()
	handler := transitHandoffHandler(lc)

	body, _ := json.Marshal(map[string]any{
		"asset_id": "asset-1",
		"challenge": map[string]any{
			"custody_token_id": "ct-9",
			"nonce":            "n1",
			"device_signature": "dev-sig",
		},
		"acceptance": map[string]any{
			"accepted_by": "carrier-2",
			"signature":   "sig",
		},
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/integration/transit/handoff", bytes.NewReader(body)))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	events := lc.Events()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Type != "TRANSIT_HANDOFF_COMPLETED" {
		t.Fatalf("unexpected event type %s", events[0].Type)
	}
	if events[0].CustodyTokenID != "ct-9" {
		t.Fatalf("custody token not carried: %q", events[0].CustodyTokenID)
	}
}

func TestPolicyBindMirror(t *testing.T) {
	lc := ledger.NewMemoryClient()
	handler := policyBindMirrorHandler(lc)

	body, _ := json.Marshal(map[string]any{
		"asset_id": "asset-1",
		"request":  map[string]any{"quote_id": "q-1", "term_days": 365},
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("POST", "/integration/policy/bind", bytes.NewReader(body)))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	events := lc.Events()
	if len(events) != 1 || events[0].Type != "POLICY_BOUND" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Payload["quote_id"] != "q-1" {
		t.Fatalf("request payload not mirrored: %+v", events[0].Payload)
	}
}
