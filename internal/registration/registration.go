// Package registration is the out-of-band RPC front door named in the
// system design (§1/§4.9): a chi-routed HTTP endpoint that registers new
// users, adapted from the teacher's internal/delivery/auth handler shape
// (method check, strict JSON decode, httpresponse-style status writer)
// down to this RPC's simpler request/response contract.
package registration

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gioleppe/Word-Quizzle/internal/httpresponse"
	"github.com/gioleppe/Word-Quizzle/internal/utils"
	"github.com/gioleppe/Word-Quizzle/internal/wqerrors"
)

// Registrar is the usecase boundary this handler delegates to: the
// session server's Handlers.Register method.
type Registrar interface {
	Register(ctx context.Context, nickname, password string) error
}

// Handler is the HTTP delivery layer for POST /register.
type Handler struct {
	registrar Registrar
	log       *zap.SugaredLogger
}

// NewHandler builds a registration Handler.
func NewHandler(registrar Registrar, log *zap.SugaredLogger) *Handler {
	return &Handler{registrar: registrar, log: log}
}

// Router builds the chi router serving the registration front door.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Post("/register", h.Register)
	return r
}

type registerRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

type registerResponse struct {
	Status string `json:"status"`
}

// Register implements the four status strings named in spec.md §6:
// "Registration succeeded", "Nickname already taken.", "Invalid
// username", "Invalid password".
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresponse.WriteResponseWithStatus(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	var req registerRequest
	if err := utils.DecodeJSONRequest(r, &req); err != nil {
		h.log.Errorw("registration: malformed request body", "error", err)
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest,
			httpresponse.ErrorResponse{ErrorDescription: httpresponse.MALFORMEDJSON_errorDesc})
		return
	}

	status := h.validateAndRegister(r.Context(), req.Nickname, req.Password)
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, registerResponse{Status: status})
}

func (h *Handler) validateAndRegister(ctx context.Context, nickname, password string) string {
	if nickname == "" {
		return "Invalid username"
	}
	if password == "" {
		return "Invalid password"
	}

	err := h.registrar.Register(ctx, nickname, password)
	switch {
	case err == nil:
		return "Registration succeeded"
	case errors.Is(err, wqerrors.ErrUserExists):
		return "Nickname already taken."
	default:
		h.log.Errorw("registration: internal error", "nickname", nickname, "error", err)
		return "Invalid username"
	}
}
