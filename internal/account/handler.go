package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
)

// Handler exposes HTTP endpoints for account operations.
type Handler struct {
	svc      *Service
	logger   *zap.SugaredLogger
	outcomes *prometheus.CounterVec
}

// NewHandler builds a Handler. outcomes may be nil; when set it is incremented
// with labels operation and outcome.
func NewHandler(svc *Service, logger *zap.SugaredLogger, outcomes *prometheus.CounterVec) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger, outcomes: outcomes}
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type CredentialRequest struct {
	Password string `json:"password"`
}

func (r CredentialRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
	)
}

type StatusRequest struct {
	Status string `json:"status"`
}

func (r StatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required, validation.By(func(v any) error {
			_, err := entity.ParseStatus(v.(string))
			return err
		})),
	)
}

type EmailRequest struct {
	Email string `json:"email"`
}

func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
	)
}

type validatable interface{ Validate() error }

// decode reads a JSON body into req and validates it. On failure the 400
// response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return false
	}
	if err := req.Validate(); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": err})
		return false
	}
	return true
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.Register(r.Context(), req.Email, req.Password)
	h.observe("register", err)
	if err != nil {
		h.writeError(w, "register", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	h.observe("login", err)
	if err != nil {
		h.writeError(w, "login", err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}
	a, err := h.svc.FindByEmail(r.Context(), email)
	if err != nil {
		h.writeError(w, "get by email", err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) EmailTaken(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}
	taken, err := h.svc.IsEmailTaken(r.Context(), email)
	if err != nil {
		h.writeError(w, "email taken", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"taken": taken})
}

func (h *Handler) ChangeCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.ChangeCredential(r.Context(), r.PathValue("id"), req.Password)
	h.observe("change_credential", err)
	if err != nil {
		h.writeError(w, "change credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, _ := entity.ParseStatus(req.Status)
	err := h.svc.ChangeStatus(r.Context(), r.PathValue("id"), st)
	h.observe("change_status", err)
	if err != nil {
		h.writeError(w, "change status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.ChangeEmail(r.Context(), r.PathValue("id"), req.Email)
	h.observe("change_email", err)
	if err != nil {
		h.writeError(w, "change email", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List serves ListAll, ListByStatuses and ListCreatedAfter depending on the
// status and created_after query parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var out []entity.Account
	switch {
	case q.Get("created_after") != "":
		since, perr := time.Parse(time.RFC3339, q.Get("created_after"))
		if perr != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "created_after must be RFC3339"})
			return
		}
		if len(statuses) > 1 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "created_after accepts at most one status"})
			return
		}
		var st *entity.Status
		if len(statuses) == 1 {
			st = &statuses[0]
		}
		out, err = h.svc.ListCreatedAfter(r.Context(), since, st)
	case len(statuses) > 0:
		out, err = h.svc.ListByStatuses(r.Context(), statuses...)
	default:
		out, err = h.svc.ListAll(r.Context())
	}
	if err != nil {
		h.writeError(w, "list", err)
		return
	}
	if out == nil {
		out = []entity.Account{}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	st, err := entity.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	n, err := h.svc.CountByStatus(r.Context(), st)
	if err != nil {
		h.writeError(w, "count", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": st, "count": n})
}

func parseStatuses(raw string) ([]entity.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []entity.Status
	for _, part := range strings.Split(raw, ",") {
		st, err := entity.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// StatusCode maps service errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrLoginNotAllowed):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Warnw(op+" failed", "err", err)
		msg = op + " failed"
	} else {
		h.logger.Debugw(op+" rejected", "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) observe(op string, err error) {
	if h.outcomes == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		if StatusCode(err) == http.StatusInternalServerError {
			outcome = "error"
		}
	}
	h.outcomes.WithLabelValues(op, outcome).Inc()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
