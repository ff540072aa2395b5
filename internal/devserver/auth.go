package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/anthonyharley32/chatsync/internal/client/ratelimit"
	"github.com/anthonyharley32/chatsync/internal/common"
)

const tokenTTL = 24 * time.Hour

type ctxKey int

const userIDKey ctxKey = iota

type credentialsPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (s *Server) issueToken(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Server) parseToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", common.ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		httpError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if creds.Email == "" || len(creds.Password) < 6 {
		httpError(w, http.StatusBadRequest, "email and a password of at least 6 characters are required")
		return
	}
	if creds.DisplayName == "" {
		creds.DisplayName, _, _ = strings.Cut(creds.Email, "@")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "hashing failed")
		return
	}

	user, err := s.store.CreateUser(creds.Email, creds.DisplayName, hash)
	if err != nil {
		httpError(w, http.StatusBadRequest, "email already registered")
		return
	}

	s.respondWithToken(w, r, user, http.StatusCreated)
}

// handleLogin authenticates credentials. Attempts are gated by the same
// limiter component the client uses, keyed by email; a blocked identifier
// answers 429 with a Retry-After header before any credential check runs.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		httpError(w, http.StatusBadRequest, "malformed body")
		return
	}

	limit := s.limiter.Check(ratelimit.LoginKey(strings.ToLower(creds.Email)))
	if limit.Blocked {
		s.metrics.Logins.WithLabelValues("blocked").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(limit.RetryIn.Seconds())))
		httpError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	user, err := s.store.UserByEmail(creds.Email)
	if err == nil {
		err = bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password))
	}
	if err != nil {
		s.metrics.Logins.WithLabelValues("failure").Inc()
		httpError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.limiter.Reset(ratelimit.LoginKey(strings.ToLower(creds.Email)))
	s.metrics.Logins.WithLabelValues("success").Inc()
	s.respondWithToken(w, r, user, http.StatusOK)
}

func (s *Server) respondWithToken(w http.ResponseWriter, r *http.Request, user User, status int) {
	token, err := s.issueToken(user.ID)
	if err != nil {
		s.log.Error(r.Context(), "token issue failed", "error", err)
		httpError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, status, map[string]any{"token": token, "user": user})
}

// requireAuth wraps a handler with bearer-token authentication. The socket
// endpoint also accepts the token as a query parameter since browser
// WebSocket clients cannot set headers.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}

		userID, err := s.parseToken(raw)
		if err != nil {
			if errors.Is(err, common.ErrInvalidToken) {
				httpError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
			httpError(w, http.StatusInternalServerError, "auth failure")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func authedUser(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
