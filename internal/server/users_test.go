package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) (Config, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	files, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return Config{
		Store:          store,
		Files:          files,
		Tokens:         NewTokenIssuer(testSecret, TokenTTL, "trifix-test"),
		Metrics:        NewMetrics(),
		Logger:         zerolog.Nop(),
		MaxUploadBytes: 1 << 20,
	}, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

var ana = map[string]string{
	"name": "Ana", "surname": "Lee", "email": "ana@x.com",
	"phone": "555", "location": "CDMX", "password": "secret1",
}

func registerAna(t *testing.T, h http.Handler) {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/register", ana)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestRegisterThenLogin(t *testing.T) {
	cfg, store := newTestConfig(t)
	h := cfg.Handler()

	rr := doJSON(t, h, http.MethodPost, "/register", ana)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Usuario registrado correctamente", decodeBody[messageResponse](t, rr).Message)

	stored, err := store.UserByEmail(t.Context(), "ana@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	rr = doJSON(t, h, http.MethodPost, "/login", map[string]string{"email": "ana@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[loginResponse](t, rr)
	assert.Equal(t, "Login exitoso", resp.Message)
	require.NotEmpty(t, resp.Token)

	claims, err := cfg.Tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, claims.UserID)
}

func TestRegister_Validation(t *testing.T) {
	cfg, store := newTestConfig(t)
	h := cfg.Handler()

	missing := map[string]string{"name": "Ana", "email": "not-an-email"}
	rr := doJSON(t, h, http.MethodPost, "/register", missing)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decodeBody[errorResponse](t, rr)
	assert.Equal(t, codeValidation, body.Code)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "surname")
	assert.Contains(t, body.Fields, "password")
	assert.NotContains(t, body.Fields, "name")
	assert.Empty(t, store.users)

	rr = doJSON(t, h, http.MethodPost, "/register", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_PasswordLimitCountsBytes(t *testing.T) {
	cfg, store := newTestConfig(t)
	h := cfg.Handler()

	// 40 runes, 80 bytes.
	long := map[string]string{}
	for k, v := range ana {
		long[k] = v
	}
	long["password"] = strings.Repeat("é", 40)

	rr := doJSON(t, h, http.MethodPost, "/register", long)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	body := decodeBody[errorResponse](t, rr)
	assert.Equal(t, codeValidation, body.Code)
	assert.Equal(t, "must be at most 72 bytes", body.Fields["password"])
	assert.Empty(t, store.users)

	// Exactly 72 bytes is accepted and usable.
	long["password"] = strings.Repeat("é", 36)
	rr = doJSON(t, h, http.MethodPost, "/register", long)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = doJSON(t, h, http.MethodPost, "/login", map[string]string{"email": "ana@x.com", "password": long["password"]})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRegister_DuplicateEmailIsGenericError(t *testing.T) {
	cfg, _ := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)

	rr := doJSON(t, h, http.MethodPost, "/register", ana)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody[errorResponse](t, rr)
	assert.Equal(t, "Error al registrar usuario", body.Error)
	assert.NotContains(t, rr.Body.String(), "duplicate")
}

func TestLogin_FailuresAreDistinguishable(t *testing.T) {
	cfg, _ := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)

	rr := doJSON(t, h, http.MethodPost, "/login", map[string]string{"email": "nobody@x.com", "password": "secret1"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	notFound := decodeBody[errorResponse](t, rr)
	assert.Equal(t, "Usuario no encontrado", notFound.Error)
	assert.Equal(t, codeUserNotFound, notFound.Code)

	rr = doJSON(t, h, http.MethodPost, "/login", map[string]string{"email": "ana@x.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	wrong := decodeBody[errorResponse](t, rr)
	assert.Equal(t, "Contraseña incorrecta", wrong.Error)
	assert.Equal(t, codeIncorrectPassword, wrong.Code)

	assert.NotEqual(t, notFound, wrong)
}

func TestLogin_StoreFailure(t *testing.T) {
	cfg, store := newTestConfig(t)
	store.err = errors.New("connection refused")

	rr := doJSON(t, cfg.Handler(), http.MethodPost, "/login", map[string]string{"email": "ana@x.com", "password": "x"})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestProfile_GetNeverReturnsHash(t *testing.T) {
	cfg, _ := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)

	rr := doJSON(t, h, http.MethodGet, "/profile/1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.ElementsMatch(t, []string{"id", "name", "surname", "email", "phone", "location"}, keys(raw))
	assert.NotContains(t, rr.Body.String(), "$2a$")
	assert.Equal(t, "ana@x.com", raw["email"])
}

func TestProfile_GetNotFound(t *testing.T) {
	cfg, _ := newTestConfig(t)

	rr := doJSON(t, cfg.Handler(), http.MethodGet, "/profile/42", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Perfil no encontrado", decodeBody[errorResponse](t, rr).Error)
}

func TestProfile_BadID(t *testing.T) {
	cfg, _ := newTestConfig(t)
	h := cfg.Handler()

	for _, id := range []string{"abc", "0", "-3", "1.5"} {
		rr := doJSON(t, h, http.MethodGet, "/profile/"+id, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "id %q", id)
	}
}

func TestProfile_UpdateKeepsPasswordWhenNotSupplied(t *testing.T) {
	cfg, store := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)
	before := store.users[1].PasswordHash

	rr := doJSON(t, h, http.MethodPut, "/profile/1", map[string]string{
		"name": "Ana María", "surname": "Lee", "email": "ana@x.com", "phone": "777", "location": "GDL",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Perfil actualizado correctamente", decodeBody[messageResponse](t, rr).Message)

	after := store.users[1]
	assert.Equal(t, before, after.PasswordHash)
	assert.Equal(t, "Ana María", after.Name)
	assert.Equal(t, "GDL", after.Location)

	// Login still works with the old password.
	rr = doJSON(t, h, http.MethodPost, "/login", map[string]string{"email": "ana@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProfile_UpdateChangesPassword(t *testing.T) {
	cfg, _ := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)

	rr := doJSON(t, h, http.MethodPut, "/profile/1", map[string]string{
		"name": "Ana", "surname": "Lee", "email": "ana@x.com", "phone": "555", "location": "CDMX", "newPassword": "other-pass",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/login", map[string]string{"email": "ana@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = doJSON(t, h, http.MethodPost, "/login", map[string]string{"email": "ana@x.com", "password": "other-pass"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProfile_UpdatePasswordLimitCountsBytes(t *testing.T) {
	cfg, store := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)
	before := store.users[1].PasswordHash

	rr := doJSON(t, h, http.MethodPut, "/profile/1", map[string]string{
		"name": "Ana", "email": "ana@x.com", "newPassword": strings.Repeat("é", 40),
	})
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	assert.Equal(t, "must be at most 72 bytes", decodeBody[errorResponse](t, rr).Fields["newPassword"])
	assert.Equal(t, before, store.users[1].PasswordHash)
}

func TestProfile_UpdateOmittedFieldsBecomeEmpty(t *testing.T) {
	cfg, store := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)

	rr := doJSON(t, h, http.MethodPut, "/profile/1", map[string]string{"name": "Solo"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Solo", store.users[1].Name)
	assert.Empty(t, store.users[1].Email)
}

func TestProfile_UpdateMissingIDSucceeds(t *testing.T) {
	cfg, _ := newTestConfig(t)

	rr := doJSON(t, cfg.Handler(), http.MethodPut, "/profile/99", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProfile_UpdateRejectsBadEmail(t *testing.T) {
	cfg, _ := newTestConfig(t)

	rr := doJSON(t, cfg.Handler(), http.MethodPut, "/profile/1", map[string]string{"email": "nope"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rr).Fields, "email")
}

func TestProfile_DeleteThenGetIs404(t *testing.T) {
	cfg, _ := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)

	rr := doJSON(t, h, http.MethodDelete, "/profile/1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Perfil eliminado correctamente", decodeBody[messageResponse](t, rr).Message)

	rr = doJSON(t, h, http.MethodGet, "/profile/1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProfile_DeleteUserWithPublications(t *testing.T) {
	cfg, _ := newTestConfig(t)
	h := cfg.Handler()
	registerAna(t, h)

	rr := postPublication(t, h, map[string]string{"authorId": "1", "title": "Bache"}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodDelete, "/profile/1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodGet, "/profile/1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// The orphaned publication drops out of the author join.
	rr = doJSON(t, h, http.MethodGet, "/publications", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestProfile_DeleteFailureIsGeneric(t *testing.T) {
	cfg, store := newTestConfig(t)
	store.err = errors.New("boom")

	rr := doJSON(t, cfg.Handler(), http.MethodDelete, "/profile/1", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Error al eliminar perfil", decodeBody[errorResponse](t, rr).Error)
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	cfg, _ := newTestConfig(t)
	big := `{"name":"` + strings.Repeat("a", maxJSONBody) + `"}`

	rr := doJSON(t, cfg.Handler(), http.MethodPost, "/register", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
