// Package handler implements the HTTP admission boundary: the
// OpenAI-compatible chat-completions endpoint and the health endpoint.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotaforge/gateway/chatapi"
	"github.com/quotaforge/gateway/config"
	"github.com/quotaforge/gateway/estimator"
	gwmw "github.com/quotaforge/gateway/middleware"
	"github.com/quotaforge/gateway/metrics"
	"github.com/quotaforge/gateway/quota"
	"github.com/quotaforge/gateway/reconcile"
	"github.com/quotaforge/gateway/upstream"
)

// AdmissionHandler implements POST /v1/chat/completions.
type AdmissionHandler struct {
	engine   *quota.Engine
	upstream upstream.Provider
	cfg      *config.Config
	log      zerolog.Logger
	metrics  *metrics.Registry
}

// NewAdmissionHandler constructs an AdmissionHandler.
func NewAdmissionHandler(engine *quota.Engine, up upstream.Provider, cfg *config.Config, log zerolog.Logger, reg *metrics.Registry) *AdmissionHandler {
	return &AdmissionHandler{engine: engine, upstream: up, cfg: cfg, log: log.With().Str("component", "admission_handler").Logger(), metrics: reg}
}

// ChatCompletions implements POST /v1/chat/completions.
func (h *AdmissionHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	apiKey := gwmw.GetAPIKey(r.Context())
	limits, ok := gwmw.GetKeyLimits(r.Context())
	if !ok {
		// Auth middleware guarantees this never happens; defensive only.
		writeError(w, http.StatusUnauthorized, "authentication_error", "invalid_api_key", "unknown API key")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	raw, err := io.ReadAll(body)
	if err != nil {
		writeMalformedBody(w, "request body too large or unreadable")
		return
	}

	var req chatapi.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeMalformedBody(w, "invalid JSON body")
		return
	}
	req.Raw = raw

	if req.Model == "" {
		writeMalformedBody(w, "field \"model\" is required")
		return
	}
	if len(req.Messages) == 0 {
		writeMalformedBody(w, "field \"messages\" must be non-empty")
		return
	}

	est := estimator.EstimatePrompt(&req, int(h.cfg.DefaultMaxTokensReserve))

	admitStart := time.Now()
	res, err := h.engine.Admit(r.Context(), apiKey, limits, int64(est.PromptTokens), int64(est.OutputReserve))
	h.observeAdmissionLatency("admit", admitStart)
	if err != nil {
		if !errors.Is(err, quota.ErrStoreUnavailable) {
			h.log.Error().Err(err).Msg("admit returned a malformed result; internal invariant violation")
			h.countOutcome("invariant_violation")
			writeInternalError(w, "")
			return
		}
		if h.cfg.FailOpenOnStoreError {
			h.log.Warn().Err(err).Msg("store unavailable; failing open per configuration")
			h.forwardAndRespond(w, r, &req, nil)
			return
		}
		h.log.Error().Err(err).Msg("store unavailable; failing closed")
		h.countOutcome("store_unavailable")
		writeStoreUnavailable(w)
		return
	}

	if !res.Admitted {
		h.countOutcome("rejected")
		setRateLimitHeaders(w, res.Headers)
		w.Header().Set("Retry-After", strconv.FormatInt(res.Headers.RetryAfterSeconds, 10))
		writeRateLimitExceeded(w)
		return
	}

	h.forwardAndRespond(w, r, &req, &res)
}

func (h *AdmissionHandler) forwardAndRespond(w http.ResponseWriter, r *http.Request, req *chatapi.Request, admitted *quota.Result) {
	var guard *reconcile.Guard
	if admitted != nil {
		guard = reconcile.NewGuard(h.engine, admitted.ReservationID, h.log)
		defer guard.ReleaseIfUnresolved(context.Background())
	}

	upstreamCtx, cancel := context.WithTimeout(r.Context(), h.cfg.UpstreamTimeout)
	defer cancel()

	upstreamStart := time.Now()
	resp, err := h.upstream.ChatCompletion(upstreamCtx, req)

	if err != nil {
		outcome := "error"
		status := http.StatusBadGateway
		if errors.Is(upstreamCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
			status = http.StatusGatewayTimeout
		}
		h.observeUpstreamLatency(outcome, upstreamStart)
		h.countOutcome("upstream_" + outcome)

		if guard != nil {
			if releaseErr := guard.Release(context.Background()); releaseErr != nil {
				h.log.Error().Err(releaseErr).Msg("release after upstream failure also failed")
			}
		}
		writeUpstreamError(w, status, fmt.Sprintf("upstream call failed: %v", err))
		return
	}
	h.observeUpstreamLatency("success", upstreamStart)

	promptActual, completionActual := estimator.MeasureUsage(resp)
	if guard != nil {
		if err := guard.Commit(context.Background(), int64(promptActual), int64(completionActual)); err != nil {
			h.log.Error().Err(err).Msg("commit failed after successful upstream call")
		}
		h.countOutcome("admitted")
		setRateLimitHeaders(w, admitted.Headers)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func setRateLimitHeaders(w http.ResponseWriter, h quota.Headers) {
	w.Header().Set("X-RateLimit-Limit-Requests", strconv.FormatInt(h.LimitRequests, 10))
	w.Header().Set("X-RateLimit-Remaining-Requests", strconv.FormatInt(maxInt64(h.RemainingRequests, 0), 10))
	w.Header().Set("X-RateLimit-Limit-Tokens", strconv.FormatInt(h.LimitTokens, 10))
	w.Header().Set("X-RateLimit-Remaining-Tokens", strconv.FormatInt(maxInt64(h.RemainingTokens, 0), 10))
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (h *AdmissionHandler) countOutcome(outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.AdmissionsTotal.WithLabelValues(outcome).Inc()
}

func (h *AdmissionHandler) observeAdmissionLatency(op string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.AdmissionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (h *AdmissionHandler) observeUpstreamLatency(outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.UpstreamLatency.WithLabelValues(h.upstream.Name(), outcome).Observe(time.Since(start).Seconds())
}
