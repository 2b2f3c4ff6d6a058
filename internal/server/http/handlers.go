package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/keycache/internal/convert"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
	"github.com/and161185/keycache/internal/service"
)

// Handler wires services into the sync API routes.
type Handler struct {
	auth  service.AuthService
	cards service.CardService
	log   *zap.Logger
}

// NewHandler constructs a Handler with injected services.
func NewHandler(auth service.AuthService, cards service.CardService, log *zap.Logger) *Handler {
	return &Handler{auth: auth, cards: cards, log: log}
}

// --- Auth ---

// Register creates a new user account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req convert.RegisterRequest
	if err := readJSON(r, &req); err != nil {
		h.writeServiceError(w, r, "register", err)
		return
	}
	reg, err := h.auth.Register(r.Context(), req.Username, req.Secret, req.WrappedMaster)
	if err != nil {
		h.writeServiceError(w, r, "register", err)
		return
	}
	writeJSON(w, convert.ToRegisterResponse(reg))
}

// Authenticate verifies the login secret and returns the session token.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req convert.AuthenticateRequest
	if err := readJSON(r, &req); err != nil {
		h.writeServiceError(w, r, "authenticate", err)
		return
	}
	tok, err := h.auth.Login(r.Context(), req.Username, req.Secret, clientIP(r))
	if err != nil {
		h.writeServiceError(w, r, "authenticate", err)
		return
	}
	writeJSON(w, convert.AuthenticateResponse{Session: tok})
}

// Logout revokes the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s, _ := SessionFromCtx(r.Context())
	if err := h.auth.Logout(r.Context(), s.Token); err != nil {
		h.writeServiceError(w, r, "logout", err)
		return
	}
	writeJSON(w, true)
}

// ChangeSecret replaces the caller's secret and wrapped master key.
func (h *Handler) ChangeSecret(w http.ResponseWriter, r *http.Request) {
	s, _ := SessionFromCtx(r.Context())
	var req convert.ChangeSecretRequest
	if err := readJSON(r, &req); err != nil {
		h.writeServiceError(w, r, "changeSecret", err)
		return
	}
	if err := h.auth.ChangeSecret(r.Context(), s.UserID, req.Secret, req.WrappedMaster); err != nil {
		h.writeServiceError(w, r, "changeSecret", err)
		return
	}
	writeJSON(w, "true")
}

// --- Cards ---

// CreateCard stores a new card under the path card id.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req convert.CardRequest
	if err := readCard(r, &req); err != nil {
		h.writeServiceError(w, r, "createCard", err)
		return
	}
	v, err := h.cards.Create(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "cardId"), req.Encrypted)
	if err != nil {
		h.writeServiceError(w, r, "createCard", err)
		return
	}
	writeJSON(w, convert.ToCardVersionResponse(v))
}

// UpdateCard replaces a card if the supplied version is current.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var req convert.CardRequest
	if err := readCard(r, &req); err != nil {
		h.writeServiceError(w, r, "updateCard", err)
		return
	}
	v, err := h.cards.Update(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "cardId"), req.Version, req.Encrypted)
	if err != nil {
		h.writeServiceError(w, r, "updateCard", err)
		return
	}
	writeJSON(w, convert.ToCardVersionResponse(v))
}

// DeleteCard soft-deletes a card.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cards.Delete(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "cardId")); err != nil {
		h.writeServiceError(w, r, "deleteCard", err)
		return
	}
	writeJSON(w, true)
}

// GetCard returns the stored row.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	row, err := h.cards.GetOne(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "cardId"))
	if err != nil {
		h.writeServiceError(w, r, "getCard", err)
		return
	}
	writeJSON(w, convert.ToCardRowResponse(*row))
}

// readCard decodes a card body. A body id, when present, must name the
// card in the path.
func readCard(r *http.Request, req *convert.CardRequest) error {
	if err := readJSON(r, req); err != nil {
		return err
	}
	if req.ID != "" && req.ID != chi.URLParam(r, "cardId") {
		return fmt.Errorf("%w: body id does not match path", errs.ErrValidation)
	}
	return nil
}

// ListCards returns rows newer than the optional since parameter,
// soft-deleted ones included.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := model.ParseVersion(raw)
		if err != nil {
			h.writeServiceError(w, r, "listCards", errs.ErrValidation)
			return
		}
		since = &t
	}
	rows, err := h.cards.List(r.Context(), chi.URLParam(r, "userId"), since)
	if err != nil {
		h.writeServiceError(w, r, "listCards", err)
		return
	}
	list, err := convert.ToRemoteCards(rows)
	if err != nil {
		h.writeServiceError(w, r, "listCards", err)
		return
	}
	writeJSON(w, list)
}
