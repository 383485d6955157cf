package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moodjournal/dmsync/internal/service"
	"github.com/moodjournal/dmsync/pkg/validator"
	"go.uber.org/zap"
)

// AuthHandler issues the bearer tokens the conversation routes require.
type AuthHandler struct {
	authService *service.AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

// Routes registers POST {prefix}/auth/register and POST {prefix}/auth/login.
func (h *AuthHandler) Routes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/auth/register", h.Register)
	mux.HandleFunc("POST "+prefix+"/auth/login", h.Login)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if !decodeBody(w, r, &input) {
		return
	}
	if errs := validator.ValidateRegister(input.Email, input.Username, input.Password); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	resp, err := h.authService.Register(r.Context(), input)
	if err != nil {
		h.writeAuthError(w, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if !decodeBody(w, r, &input) {
		return
	}
	if errs := validator.ValidateLogin(input.Email, input.Password); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	resp, err := h.authService.Login(r.Context(), input)
	if err != nil {
		h.writeAuthError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

var authErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{service.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN", "Email is already registered"},
	{service.ErrUsernameTaken, http.StatusConflict, "USERNAME_TAKEN", "Username is already taken"},
	{service.ErrInvalidCreds, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, op string, err error) {
	for _, e := range authErrors {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, e.message)
			return
		}
	}
	h.log.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}
