package checkout

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merchantsim/acp-backend/api/responses"
	"github.com/merchantsim/acp-backend/api/validators"
	"github.com/merchantsim/acp-backend/internal/checkout"
	pkgerrors "github.com/merchantsim/acp-backend/pkg/errors"
	"github.com/merchantsim/acp-backend/pkg/logger"
)

// Create opens a new checkout session from the buyer's cart snapshot.
func Create(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req checkout.CreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		session, err := svc.Create(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusCreated, session)
	}
}

// Get returns the current state of a session.
func Get(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := chi.URLParam(r, "sessionID")

		session, err := svc.Get(ctx, sessionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, session)
	}
}

// Update applies a partial update and recomputes totals.
func Update(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := chi.URLParam(r, "sessionID")

		var req checkout.UpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		session, err := svc.Update(ctx, sessionID, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, session)
	}
}

// Complete runs the simulated payment and, on success, finalizes the order.
func Complete(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := chi.URLParam(r, "sessionID")

		var req checkout.CompleteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		session, err := svc.Complete(ctx, sessionID, req, r.Header.Get("Origin"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, session)
	}
}

// Cancel terminates a session. The body is optional; when present it must be
// valid JSON but is otherwise ignored. A canceled-vs-completed conflict
// answers 405 rather than the usual 400.
func Cancel(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := chi.URLParam(r, "sessionID")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidJSON, err, "reading request body"))
			return
		}
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && !json.Valid(trimmed) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidJSON, "request body is not valid JSON"))
			return
		}

		session, svcErr := svc.Cancel(ctx, sessionID)
		if svcErr != nil {
			if typed := pkgerrors.As(svcErr); typed != nil && typed.Code() == pkgerrors.CodeInvalidStatus {
				svcErr = typed.WithStatus(http.StatusMethodNotAllowed)
			}
			responses.WriteError(ctx, logg, w, svcErr)
			return
		}

		responses.WriteJSON(w, http.StatusOK, session)
	}
}
