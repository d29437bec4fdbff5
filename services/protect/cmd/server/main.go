package main

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-protect/pkg/adjudication"
	"github.com/terryholliday/proveniq-protect/pkg/canonical"
	"github.com/terryholliday/proveniq-protect/pkg/config"
	"github.com/terryholliday/proveniq-protect/pkg/db"
	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/httpx"
	"github.com/terryholliday/proveniq-protect/pkg/ledger"
	"github.com/terryholliday/proveniq-protect/pkg/pricing"
	"github.com/terryholliday/proveniq-protect/services/protect/internal/engine"
	"github.com/terryholliday/proveniq-protect/services/protect/internal/ingress"
	"github.com/terryholliday/proveniq-protect/services/protect/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Getenv("PROTECT_CONFIG"))
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.New(pool)

	lc, err := ledger.New(ledger.Config{
		Mode:    cfg.Ledger.Mode,
		BaseURL: cfg.Ledger.BaseURL,
		Token:   cfg.Ledger.Token,
		Timeout: cfg.Ledger.Timeout(),
	})
	if err != nil {
		log.Error("build ledger client", "error", err)
		os.Exit(1)
	}
	adj := adjudication.NewHTTPClient(cfg.Adjudication.BaseURL, cfg.Adjudication.Token, cfg.Adjudication.Timeout())

	eng := engine.New(st, lc, adj, log,
		engine.WithQuoteTTL(cfg.QuoteTTL()),
		engine.WithSilenceThreshold(cfg.SilenceThreshold()),
	)

	var verifier *ingress.Verifier
	if cfg.WebhookSecret != "" {
		verifier, err = ingress.NewVerifier(cfg.WebhookSecret)
		if err != nil {
			log.Error("build webhook verifier", "error", err)
			os.Exit(1)
		}
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/protect", func(api chi.Router) {
		api.Group(func(authed chi.Router) {
			authed.Use(bearerAuth(cfg.ServiceToken))

			authed.Post("/quotes", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					pricing.Context
					engine.QuoteRequest
				}
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
					return
				}
				q, err := eng.RateQuote(r.Context(), req.Context, req.QuoteRequest)
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "quote": q})
			})

			authed.Get("/quotes/{quote_id}", func(w http.ResponseWriter, r *http.Request) {
				q, err := eng.GetQuote(r.Context(), chi.URLParam(r, "quote_id"))
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "quote": q})
			})

			authed.Post("/policies/bind", func(w http.ResponseWriter, r *http.Request) {
				var req engine.BindRequest
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
					return
				}
				p, err := eng.BindPolicy(r.Context(), req)
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "policy": p})
			})

			authed.Get("/policies/{policy_id}", func(w http.ResponseWriter, r *http.Request) {
				detail, err := eng.GetPolicyDetail(r.Context(), chi.URLParam(r, "policy_id"))
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{
					"request_id": httpx.NewRequestID(),
					"policy":     detail.Policy,
					"quote":      detail.Quote,
					"claims":     detail.Claims,
				})
			})

			authed.Post("/claims", func(w http.ResponseWriter, r *http.Request) {
				var req engine.ClaimRequest
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
					return
				}
				res, err := eng.SubmitClaim(r.Context(), req)
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 201, map[string]any{
					"request_id":   httpx.NewRequestID(),
					"claim":        res.Claim,
					"adjudication": res.Adjudication,
				})
			})

			authed.Get("/claims", func(w http.ResponseWriter, r *http.Request) {
				f := engine.ClaimFilter{
					PolicyID: r.URL.Query().Get("policy_id"),
					Status:   domain.ClaimStatus(r.URL.Query().Get("status")),
				}
				claims, err := eng.ListClaims(r.Context(), f)
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "claims": claims})
			})

			authed.Get("/claims/{claim_id}", func(w http.ResponseWriter, r *http.Request) {
				c, err := eng.GetClaim(r.Context(), chi.URLParam(r, "claim_id"))
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "claim": c})
			})

			authed.Patch("/claims/{claim_id}", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Status               *domain.ClaimStatus `json:"status,omitempty"`
					ApprovedAmountMicros *string             `json:"approved_amount_micros,omitempty"`
					ResolutionNotes      *string             `json:"resolution_notes,omitempty"`
					ResolvedBy           *string             `json:"resolved_by,omitempty"`
					AdjudicationPacketID *string             `json:"adjudication_packet_id,omitempty"`
					AdjudicationScore    *float64            `json:"adjudication_score,omitempty"`
				}
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
					return
				}
				c, err := eng.UpdateClaim(r.Context(), chi.URLParam(r, "claim_id"), domain.ClaimUpdate{
					Status:               req.Status,
					ApprovedAmountMicros: req.ApprovedAmountMicros,
					ResolutionNotes:      req.ResolutionNotes,
					ResolvedBy:           req.ResolvedBy,
					AdjudicationPacketID: req.AdjudicationPacketID,
					AdjudicationScore:    req.AdjudicationScore,
				})
				if err != nil {
					httpx.WriteDomainError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "claim": c})
			})
		})

		// Anchor telemetry is signed by the device gateway, not bearer-authed.
		api.Post("/anchors/events", func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, ingress.MaxBodyBytes)
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					httpx.WriteError(w, 413, string(domain.CodeValidation), "payload too large", nil)
					return
				}
				httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
				return
			}
			if verifier != nil {
				if res := verifier.Verify(r.Header, rawBody); !res.Valid {
					httpx.WriteError(w, 401, "UNAUTHORIZED", "invalid webhook signature", res.Details)
					return
				}
			}
			var in engine.AnchorEventInput
			dec := json.NewDecoder(bytes.NewReader(rawBody))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
				return
			}
			res, err := eng.IngestAnchorEvent(r.Context(), in)
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "result": res})
		})

		api.Post("/cron/anchor-watchdog", func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(r, cfg.CronSecret) {
				httpx.WriteError(w, 401, "UNAUTHORIZED", "invalid cron secret", nil)
				return
			}
			wres, err := eng.RunWatchdog(r.Context())
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			ores, err := eng.FlushOutbox(r.Context())
			if err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"watchdog":   wres,
				"outbox":     ores,
			})
		})
	})

	r.Route("/integration", func(api chi.Router) {
		api.Use(bearerAuth(cfg.ServiceToken))
		api.Post("/service-record", serviceRecordHandler(lc))
		api.Post("/transit/handoff", transitHandoffHandler(lc))
		api.Post("/policy/bind", policyBindMirrorHandler(lc))
	})

	addr := ":" + cfg.ListenPort
	log.Info("protect service listening", "addr", addr, "ledger_mode", cfg.Ledger.Mode)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// bearerAuth guards mutating routes with a shared service token. An empty
// configured token disables the check for local development.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && !tokenMatches(r, token) {
				httpx.WriteError(w, 401, "UNAUTHORIZED", "missing or invalid bearer token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(r *http.Request, want string) bool {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// serviceRecordHandler mirrors an externally signed service record onto the
// ledger. The record's signature fields are stripped before hashing so the
// hash commits to content, not signatures. The idempotency key derives from
// that hash, so re-posting the same record cannot double-append.
func serviceRecordHandler(lc ledger.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var record map[string]any
		if err := httpx.ReadJSON(r, &record); err != nil {
			httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
			return
		}
		assetID, _ := record["asset_id"].(string)
		if assetID == "" {
			httpx.WriteError(w, 400, string(domain.CodeValidation), "asset_id is required", nil)
			return
		}
		stripped, err := canonical.StripSig(record)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		hash, err := canonical.HashObject(stripped)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		payload := cloneWithHash(record, hash)
		writeMirrorReceipt(w, r, lc, ledger.Event{
			Type:           "SERVICE_RECORDED",
			AssetID:        assetID,
			Payload:        payload,
			CorrelationID:  uuid.NewString(),
			IdempotencyKey: "service-record-" + hash[:16],
			CreatedAt:      time.Now().UTC(),
			SchemaVersion:  ledger.SchemaVersion,
		}, hash)
	}
}

func transitHandoffHandler(lc ledger.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			AssetID    string         `json:"asset_id"`
			Challenge  map[string]any `json:"challenge"`
			Acceptance map[string]any `json:"acceptance"`
		}
		if err := httpx.ReadJSON(r, &payload); err != nil {
			httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
			return
		}
		if payload.AssetID == "" || payload.Challenge == nil || payload.Acceptance == nil {
			httpx.WriteError(w, 400, string(domain.CodeValidation),
				"asset_id, challenge and acceptance are required", nil)
			return
		}
		challenge, err := canonical.StripSig(payload.Challenge)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		acceptance, err := canonical.StripSig(payload.Acceptance)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		hash, err := canonical.HashObject(map[string]any{
			"asset_id":   payload.AssetID,
			"challenge":  challenge,
			"acceptance": acceptance,
		})
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		custodyTokenID, _ := payload.Challenge["custody_token_id"].(string)
		writeMirrorReceipt(w, r, lc, ledger.Event{
			Type:           "TRANSIT_HANDOFF_COMPLETED",
			AssetID:        payload.AssetID,
			CustodyTokenID: custodyTokenID,
			Payload: map[string]any{
				"asset_id":           payload.AssetID,
				"challenge":          payload.Challenge,
				"acceptance":         payload.Acceptance,
				"canonical_hash_hex": hash,
			},
			CorrelationID:  uuid.NewString(),
			IdempotencyKey: "transit-handoff-" + hash[:16],
			CreatedAt:      time.Now().UTC(),
			SchemaVersion:  ledger.SchemaVersion,
		}, hash)
	}
}

func policyBindMirrorHandler(lc ledger.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			AssetID string         `json:"asset_id"`
			Request map[string]any `json:"request"`
		}
		if err := httpx.ReadJSON(r, &payload); err != nil {
			httpx.WriteError(w, 400, string(domain.CodeValidation), err.Error(), nil)
			return
		}
		if payload.AssetID == "" || payload.Request == nil {
			httpx.WriteError(w, 400, string(domain.CodeValidation), "asset_id and request are required", nil)
			return
		}
		hash, err := canonical.HashObject(map[string]any{
			"asset_id": payload.AssetID,
			"request":  payload.Request,
		})
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		writeMirrorReceipt(w, r, lc, ledger.Event{
			Type:           "POLICY_BOUND",
			AssetID:        payload.AssetID,
			Payload:        cloneWithHash(payload.Request, hash),
			CorrelationID:  uuid.NewString(),
			IdempotencyKey: "policy-bind-mirror-" + hash[:16],
			CreatedAt:      time.Now().UTC(),
			SchemaVersion:  ledger.SchemaVersion,
		}, hash)
	}
}

func writeMirrorReceipt(w http.ResponseWriter, r *http.Request, lc ledger.Client, ev ledger.Event, hash string) {
	receipt, err := lc.AppendEvent(r.Context(), ev)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"status":             "ok",
		"canonical_hash_hex": hash,
		"receipt":            receipt,
	})
}

func cloneWithHash(m map[string]any, hash string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["canonical_hash_hex"] = hash
	return out
}
