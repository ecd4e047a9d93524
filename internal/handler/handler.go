package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Dan9191/bankcards/internal/middleware"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler adapts HTTP requests to the services. It resolves the caller from
// the request context once and passes it explicitly into every service call.
type Handler struct {
	auth      *service.AuthService
	cards     *service.CardService
	transfers *service.TransferService
	log       *logrus.Logger
	now       func() time.Time
}

func NewHandler(auth *service.AuthService, cards *service.CardService, transfers *service.TransferService, log *logrus.Logger) *Handler {
	return &Handler{auth: auth, cards: cards, transfers: transfers, log: log, now: time.Now}
}

// Router registers every route. Routes under /api require a Bearer token.
func (h *Handler) Router(jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware, middleware.LoggingMiddleware(h.log))

	// Public routes
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)

	// Protected routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(jwtSecret, h.log))

	api.HandleFunc("/admin/cards", h.CreateCard).Methods(http.MethodPost)
	api.HandleFunc("/admin/cards", h.ListAllCards).Methods(http.MethodGet)
	api.HandleFunc("/admin/cards/{id}", h.UpdateCard).Methods(http.MethodPut)
	api.HandleFunc("/admin/cards/{id}", h.DeleteCard).Methods(http.MethodDelete)
	api.HandleFunc("/admin/cards/{id}/block", h.BlockCard).Methods(http.MethodPost)
	api.HandleFunc("/admin/cards/{id}/activate", h.ActivateCard).Methods(http.MethodPost)

	api.HandleFunc("/user/cards", h.ListCards).Methods(http.MethodGet)
	api.HandleFunc("/user/cards/{id}", h.GetCard).Methods(http.MethodGet)
	api.HandleFunc("/user/cards/{id}/balance", h.GetBalance).Methods(http.MethodGet)
	api.HandleFunc("/user/cards/{id}/transfers", h.ListTransfers).Methods(http.MethodGet)
	api.HandleFunc("/user/cards/{id}/statement", h.GetStatement).Methods(http.MethodGet)

	api.HandleFunc("/transfer", h.Transfer).Methods(http.MethodPost)
	return r
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration. Self-registered users always get the USER role.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req, models.ErrInvalidUser) {
		return
	}
	user, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password, models.RoleUser)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req, models.ErrInvalidCredentials) {
		return
	}
	token, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// caller is always present behind AuthMiddleware; a zero caller has no
// role and is rejected by every service check.
func caller(r *http.Request) models.Caller {
	c, _ := middleware.CallerFrom(r.Context())
	return c
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("card id %q: %w", raw, models.ErrInvalidCard)
	}
	return id, nil
}

// decode reads a JSON body; malformed input is reported as invalid.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, invalid *models.Error) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, fmt.Errorf("malformed request body: %v: %w", err, invalid))
		return false
	}
	return true
}

func statusFor(kind models.Kind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindUnauthorized:
		return http.StatusUnauthorized
	case models.KindBusy:
		return http.StatusServiceUnavailable
	case models.KindExhausted:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if kind == models.KindInternal {
		h.log.Errorf("Internal error: %v", err)
		msg = "internal error"
	}
	if kind == models.KindBusy {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: models.CodeOf(err), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
