package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/store"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func handleRegister(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request registerRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid register request body", false, map[string]any{"details": err.Error()})
		return
	}

	name := strings.TrimSpace(request.Name)
	email := strings.ToLower(strings.TrimSpace(request.Email))
	if name == "" || email == "" || request.Password == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FIELDS_REQUIRED", "name, email and password are required", false, nil)
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EMAIL", "email address is not valid", false, nil)
		return
	}

	if _, err := deps.Users.GetUserByEmail(r.Context(), email); err == nil {
		writeError(r.Context(), w, http.StatusConflict, "EMAIL_TAKEN", "an account with this email already exists", false, nil)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to check existing accounts", true, nil)
		return
	}

	passwordHash, err := auth.HashPassword(request.Password)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PASSWORD", err.Error(), false, nil)
		return
	}

	user, err := deps.Users.CreateUser(r.Context(), name, email, passwordHash)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to create account", true, nil)
		return
	}

	token, err := deps.Tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "TOKEN_ERROR", "failed to issue token", true, nil)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Token: token,
		User:  userResponse{ID: user.ID, Name: user.Name, Email: user.Email},
	})
}

func handleLogin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid login request body", false, map[string]any{"details": err.Error()})
		return
	}

	email := strings.ToLower(strings.TrimSpace(request.Email))
	user, err := deps.Users.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to look up account", true, nil)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, request.Password) {
		writeError(r.Context(), w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect", false, nil)
		return
	}

	token, err := deps.Tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "TOKEN_ERROR", "failed to issue token", true, nil)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Token: token,
		User:  userResponse{ID: user.ID, Name: user.Name, Email: user.Email},
	})
}

func handleMe(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", false, nil)
		return
	}

	user, err := deps.Users.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "account no longer exists", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to load account", true, nil)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Name: user.Name, Email: user.Email})
}
