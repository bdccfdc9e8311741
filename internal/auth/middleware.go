package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Middleware guards routes with a bearer token. The token is compared in
// constant time against the configured API key; when a JWT secret is also
// configured, an HMAC-signed JWT is accepted as an alternative.
type Middleware struct {
	apiKey    []byte
	jwtSecret []byte
}

func NewMiddleware(apiKey, jwtSecret string) *Middleware {
	return &Middleware{
		apiKey:    []byte(apiKey),
		jwtSecret: []byte(jwtSecret),
	}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is missing")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), m.apiKey) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		if len(m.jwtSecret) > 0 && m.validJWT(token) {
			next.ServeHTTP(w, r)
			return
		}

		writeError(w, http.StatusUnauthorized, "Invalid API Key")
	})
}

func (m *Middleware) validJWT(tokenStr string) bool {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	if exp, err := token.Claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return false
	}
	return true
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"detail": msg,
		"error":  map[string]string{"kind": "auth"},
	})
}
