package http

import (
	"fmt"
	"net/http"

	"contas/internal/auth"
	"contas/internal/core"
)

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	username, _ := b.str("username")
	email, _ := b.str("email")
	password, _ := b.str("password")
	if len(password) < 8 {
		writeError(w, r, core.Invalid("password must be at least 8 characters", nil))
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		writeError(w, r, core.Storage("hash password", err))
		return
	}

	user, err := s.store.CreateUser(r.Context(), core.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/users/%d", user.ID))
	writeJSON(w, http.StatusCreated, toUserDTO(user, true))
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="contas"`)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
			Kind:    "unauthorized",
			Message: "basic auth credentials required",
		}})
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, password) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
			Kind:    "unauthorized",
			Message: "invalid username or password",
		}})
		return
	}

	token, expires, err := s.issuer.Issue(user.ID)
	if err != nil {
		writeError(w, r, core.Storage("issue token", err))
		return
	}

	// Login still succeeds if this fails; last_seen is cosmetic.
	_ = s.store.TouchLastSeen(r.Context(), user.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"expires": expires,
	})
}

// Tokens are stateless; revocation is the client discarding it. The
// endpoint exists so clients have a uniform logout call.
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Email only on your own profile
	includeEmail := auth.UserID(r.Context()) == user.ID
	writeJSON(w, http.StatusOK, toUserDTO(user, includeEmail))
}

// requireOwner checks that the {id} path segment names the
// authenticated user. Someone else's resources read as absent.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return 0, false
	}
	if id != auth.UserID(r.Context()) {
		writeError(w, r, core.NotFound("user", id))
		return 0, false
	}
	return id, true
}
