package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/pulseboard/pulseboard-backend/api/responses"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

const apiKeyHeader = "X-API-Key"

type apiKeyCtxKey struct{}

// APIKeyAuth requires a configured key in the X-API-Key header. Keys are
// compared in constant time; the key's fingerprint (never the key itself) is
// attached to the request context for logging and rate limiting.
func APIKeyAuth(keys []string, logg *logger.Logger) func(http.Handler) http.Handler {
	valid := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, k)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			presented := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if presented == "" || !keyMatches(presented, valid) {
				responses.WriteError(ctx, logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "missing or invalid API key"))
				return
			}

			fp := KeyFingerprint(presented)
			ctx = context.WithValue(ctx, apiKeyCtxKey{}, fp)
			if logg != nil {
				ctx = logg.WithField(ctx, "api_key_fp", fp)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func keyMatches(presented string, valid []string) bool {
	matched := false
	for _, k := range valid {
		if len(k) == len(presented) &&
			subtle.ConstantTimeCompare([]byte(k), []byte(presented)) == 1 {
			matched = true
		}
	}
	return matched
}

// KeyFingerprint returns a short stable identifier for an API key.
func KeyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// KeyFingerprintFrom extracts the authenticated key fingerprint, or "" when
// the request did not pass API key auth.
func KeyFingerprintFrom(ctx context.Context) string {
	fp, _ := ctx.Value(apiKeyCtxKey{}).(string)
	return fp
}
