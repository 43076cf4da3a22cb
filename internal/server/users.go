// users.go - Account registration, login and profile CRUD handlers.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// validate is shared by every handler; validator caches struct metadata and
// is safe for concurrent use.
var validate = newRequestValidator()

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Surname  string `json:"surname" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required"`
	Location string `json:"location" validate:"required"`
	// bcrypt rejects passwords longer than 72 bytes.
	Password string `json:"password" validate:"required,maxbytes=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type profileResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
}

type updateProfileRequest struct {
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone"`
	Location    string `json:"location"`
	NewPassword string `json:"newPassword" validate:"omitempty,maxbytes=72"`
}

// decodeJSON reads a single JSON object into dst and validates it. It writes
// the 400 response itself and reports whether the caller may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "Cuerpo demasiado grande", Code: codeTooLarge}, err)
			return false
		}
		msg := "must be a JSON object"
		if errors.Is(err, io.EOF) {
			msg = "is required"
		}
		writeValidation(w, r, map[string]string{"body": msg})
		return false
	}

	fields, err := validate.Struct(dst)
	if err != nil {
		writeInternal(w, r, "Error interno", err)
		return false
	}
	if fields != nil {
		writeValidation(w, r, fields)
		return false
	}
	return true
}

// pathID parses the {id} path segment as a positive integer, writing a 400
// when it is not one.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeValidation(w, r, map[string]string{"id": "must be a positive integer"})
		return 0, false
	}
	return id, true
}

// registerHandler handles POST /register.
func (cfg Config) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeInternal(w, r, "Error interno en registro", err)
		return
	}

	id, err := cfg.Store.CreateUser(r.Context(), NewUser{
		Name:         req.Name,
		Surname:      req.Surname,
		Email:        req.Email,
		Phone:        req.Phone,
		Location:     req.Location,
		PasswordHash: hash,
	})
	if err != nil {
		// A duplicate email lands here too and is deliberately not told apart.
		writeInternal(w, r, "Error al registrar usuario", err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Int64("user_id", id).Msg("user registered")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Usuario registrado correctamente"})
}

// loginHandler handles POST /login. Unknown email and wrong password are
// both 401 but carry different codes.
func (cfg Config) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := cfg.Store.UserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			cfg.Metrics.RecordLoginAttempt(codeUserNotFound)
			writeError(w, r, http.StatusUnauthorized, errorResponse{Error: "Usuario no encontrado", Code: codeUserNotFound}, nil)
			return
		}
		writeInternal(w, r, "Error en login", err)
		return
	}

	ok, err := verifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		writeInternal(w, r, "Error en login", err)
		return
	}
	if !ok {
		cfg.Metrics.RecordLoginAttempt(codeIncorrectPassword)
		writeError(w, r, http.StatusUnauthorized, errorResponse{Error: "Contraseña incorrecta", Code: codeIncorrectPassword}, nil)
		return
	}

	token, err := cfg.Tokens.Issue(user.ID)
	if err != nil {
		writeInternal(w, r, "Error en login", err)
		return
	}

	cfg.Metrics.RecordLoginAttempt("success")
	writeJSON(w, http.StatusOK, loginResponse{Message: "Login exitoso", Token: token})
}

// getProfileHandler handles GET /profile/{id}. The password hash never
// leaves the store layer.
func (cfg Config) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	user, err := cfg.Store.UserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, r, http.StatusNotFound, errorResponse{Error: "Perfil no encontrado", Code: codeNotFound}, nil)
			return
		}
		writeInternal(w, r, "Error al obtener perfil", err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		ID:       user.ID,
		Name:     user.Name,
		Surname:  user.Surname,
		Email:    user.Email,
		Phone:    user.Phone,
		Location: user.Location,
	})
}

// updateProfileHandler handles PUT /profile/{id}. Every profile field is
// overwritten with what was sent; the password only when newPassword is set.
func (cfg Config) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	update := ProfileUpdate{
		Name:     req.Name,
		Surname:  req.Surname,
		Email:    req.Email,
		Phone:    req.Phone,
		Location: req.Location,
	}
	if req.NewPassword != "" {
		hash, err := hashPassword(req.NewPassword)
		if err != nil {
			writeInternal(w, r, "Error interno en actualización", err)
			return
		}
		update.PasswordHash = hash
	}

	if err := cfg.Store.UpdateUser(r.Context(), id, update); err != nil {
		writeInternal(w, r, "Error al actualizar perfil", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Perfil actualizado correctamente"})
}

// deleteProfileHandler handles DELETE /profile/{id}.
func (cfg Config) deleteProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := cfg.Store.DeleteUser(r.Context(), id); err != nil {
		writeInternal(w, r, "Error al eliminar perfil", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Perfil eliminado correctamente"})
}
