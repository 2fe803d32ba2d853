package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/merchantsim/acp-backend/pkg/errors"
	"github.com/merchantsim/acp-backend/pkg/logger"
)

// WriteJSON writes a protocol resource. The protocol returns resources and
// errors bare, without an envelope.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

// WriteError maps any error onto the protocol error body {type, code,
// message, param?} and logs it. Untyped errors surface as processing_error.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeProcessingError, err, "unexpected error")
	}

	if logg != nil {
		fields := map[string]any{
			"error_type": string(typed.Type()),
			"error_code": string(typed.Code()),
		}
		if param := typed.Param(); param != "" {
			fields["error_param"] = param
		}
		ctx = logg.WithFields(ctx, fields)
		logg.Error(ctx, "request.error", err)
	}

	writeJSON(w, typed.HTTPStatus(), typed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
