package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/merchantsim/acp-backend/api/responses"
	"github.com/merchantsim/acp-backend/pkg/config"
	pkgerrors "github.com/merchantsim/acp-backend/pkg/errors"
	"github.com/merchantsim/acp-backend/pkg/logger"
)

const apiVersionHeader = "API-Version"

// Protocol enforces the request envelope before anything else touches the
// request: bearer auth when configured, then an exact API-Version match.
// It runs ahead of the idempotency layer, so a bad envelope is never
// recorded or replayed.
func Protocol(cfg config.CheckoutConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ValidateHeaders(r.Header, cfg); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateHeaders checks authorization first, then the version pin.
func ValidateHeaders(h http.Header, cfg config.CheckoutConfig) error {
	if cfg.BearerSecret != "" {
		token := bearerToken(h.Get("Authorization"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.BearerSecret)) != 1 {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing or invalid bearer token")
		}
	}

	version := h.Get(apiVersionHeader)
	if version == "" {
		return pkgerrors.New(pkgerrors.CodeMissingRequiredField, "API-Version header is required").
			WithParam(apiVersionHeader)
	}
	if version != cfg.APIVersion {
		return pkgerrors.New(
			pkgerrors.CodeUnsupportedAPIVersion,
			fmt.Sprintf("unsupported API version %q, expected %q", version, cfg.APIVersion),
		).WithParam(apiVersionHeader)
	}
	return nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}
