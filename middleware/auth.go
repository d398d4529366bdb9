package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quotaforge/gateway/config"
	"github.com/quotaforge/gateway/quota"
)

type contextKey string

const (
	// APIKeyContextKey stores the validated API key in request context.
	APIKeyContextKey contextKey = "api_key"
	// KeyLimitsContextKey stores the key's configured quota limits.
	KeyLimitsContextKey contextKey = "key_limits"
)

// AuthMiddleware validates API keys against the configured key set.
type AuthMiddleware struct {
	logger    zerolog.Logger
	cfg       *config.Config
	headerKey string
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(logger zerolog.Logger, cfg *config.Config) *AuthMiddleware {
	headerKey := cfg.APIKeyHeader
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &AuthMiddleware{logger: logger, cfg: cfg, headerKey: headerKey}
}

// Handler returns the middleware handler function. Unknown or missing
// keys are rejected with 401 and never reach the quota engine.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get(am.headerKey)
		if authHeader == "" {
			writeUnauthorized(w, "missing authentication")
			return
		}

		apiKey := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			apiKey = authHeader[len("Bearer "):]
		}
		if apiKey == "" {
			writeUnauthorized(w, "API key cannot be empty")
			return
		}

		limits, known := am.cfg.LimitsFor(apiKey)
		if !known {
			am.logger.Warn().Str("api_key_prefix", prefixFor(apiKey)).Msg("rejected unknown API key")
			writeUnauthorized(w, "unknown API key")
			return
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, apiKey)
		ctx = context.WithValue(ctx, KeyLimitsContextKey, quota.Limits{
			InputTokensPerWindow:  limits.InputTokensPerWindow,
			OutputTokensPerWindow: limits.OutputTokensPerWindow,
			RequestsPerWindow:     limits.RequestsPerWindow,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"message":"` + message + `","type":"authentication_error","code":"invalid_api_key"}}`))
}

func prefixFor(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}

// GetAPIKey extracts the validated API key from the request context.
func GetAPIKey(ctx context.Context) string {
	if v, ok := ctx.Value(APIKeyContextKey).(string); ok {
		return v
	}
	return ""
}

// GetKeyLimits extracts the key's configured quota limits from context.
func GetKeyLimits(ctx context.Context) (quota.Limits, bool) {
	v, ok := ctx.Value(KeyLimitsContextKey).(quota.Limits)
	return v, ok
}
