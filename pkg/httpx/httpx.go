// Package httpx holds the JSON envelope helpers shared by Protect handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps the error taxonomy onto HTTP statuses. INTERNAL is
// surfaced as a generic failure without leaking detail.
func WriteDomainError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)

	message := err.Error()
	var details any
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
		if len(de.Details) > 0 {
			details = de.Details
		}
	}

	switch code {
	case domain.CodeValidation, domain.CodeEncoding:
		WriteError(w, http.StatusBadRequest, string(code), message, details)
	case domain.CodeNotFound:
		WriteError(w, http.StatusNotFound, string(code), message, details)
	case domain.CodeStateConflict:
		WriteError(w, http.StatusConflict, string(code), message, details)
	case domain.CodeLedgerUnavailable, domain.CodeDownstreamUnavailable:
		WriteError(w, http.StatusBadGateway, string(code), message, details)
	default:
		WriteError(w, http.StatusInternalServerError, string(domain.CodeInternal), "internal error", nil)
	}
}
