package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func TestRegisterReturnsPublicUser(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "", http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "  Eve@Example.com ", "username": "eve", "password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	resp := decode[struct {
		User struct {
			ID       string `json:"id"`
			Email    string `json:"email"`
			Username string `json:"username"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}](t, rec)
	assert.NotEmpty(t, resp.User.ID)
	assert.Equal(t, "eve@example.com", resp.User.Email)
	assert.Equal(t, "eve", resp.User.Username)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthErrors(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "", http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "eve@example.com", "username": "eve", "password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		path   string
		body   map[string]string
		status int
		code   string
		field  string
	}{
		{"email taken", "register", map[string]string{"email": "EVE@example.com", "username": "eve2", "password": "correct horse"}, http.StatusConflict, "EMAIL_TAKEN", ""},
		{"username taken", "register", map[string]string{"email": "other@example.com", "username": "eve", "password": "correct horse"}, http.StatusConflict, "USERNAME_TAKEN", ""},
		{"short password", "register", map[string]string{"email": "x@example.com", "username": "xavier", "password": "short"}, http.StatusBadRequest, "VALIDATION_ERROR", "password"},
		{"bad username", "register", map[string]string{"email": "x@example.com", "username": "x y", "password": "correct horse"}, http.StatusBadRequest, "VALIDATION_ERROR", "username"},
		{"wrong password", "login", map[string]string{"email": "eve@example.com", "password": "incorrect"}, http.StatusUnauthorized, "INVALID_CREDENTIALS", ""},
		{"unknown email", "login", map[string]string{"email": "nobody@example.com", "password": "correct horse"}, http.StatusUnauthorized, "INVALID_CREDENTIALS", ""},
		{"missing password", "login", map[string]string{"email": "eve@example.com"}, http.StatusBadRequest, "VALIDATION_ERROR", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "", http.MethodPost, "/api/v1/auth/"+tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			if tt.field != "" {
				assert.Contains(t, body.Error.Fields, tt.field)
			}
		})
	}
}

func TestAuthRejectsMalformedJSON(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/api/v1/auth/register", "/api/v1/auth/login"} {
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{not json")))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "INVALID_JSON", decode[errorBody](t, rec).Error.Code)
	}
}
