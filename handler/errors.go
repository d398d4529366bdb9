package handler

import (
	"encoding/json"
	"net/http"
)

// errorBody matches the OpenAI-compatible error envelope.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, errType, code, message string) {
	body := errorBody{}
	body.Error.Message = message
	body.Error.Type = errType
	body.Error.Code = code

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRateLimitExceeded(w http.ResponseWriter) {
	writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "rate_limit_exceeded", "Rate limit exceeded")
}

func writeMalformedBody(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed_body", detail)
}

func writeUpstreamError(w http.ResponseWriter, status int, detail string) {
	code := "upstream_error"
	errType := "api_error"
	if status == http.StatusGatewayTimeout {
		code = "upstream_timeout"
	}
	writeError(w, status, errType, code, detail)
}

func writeStoreUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "service_unavailable", "store_unavailable", "Coordination store unavailable")
}

func writeInternalError(w http.ResponseWriter, reservationID string) {
	writeError(w, http.StatusInternalServerError, "internal_error", "invariant_violation", "Internal error; reservation "+reservationID)
}
