// Package httpapi serves the worker's trivial HTTP status surface:
// an unauthenticated health check and a bearer-token-gated self-test
// endpoint that runs one canned encode.
package httpapi

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/nostrworks/video-dvm/internal/admin"
)

// selfTestTokenLifetime bounds how long an issued bearer token for
// /self-test stays valid; callers mint a fresh one per request rather
// than caching it across the worker's lifetime.
const selfTestTokenLifetime = 5 * time.Minute

// Server serves /healthz and /self-test.
type Server struct {
	selfTester admin.SelfTester
	signingKey []byte
	pubkeyHex  string
	startedAt  time.Time
	log        *slog.Logger

	mux *http.ServeMux
}

// New constructs a Server. identitySecret is the worker's raw private
// key hex; the HMAC signing key is derived from it (never the secret
// itself) so a leaked self-test token can't be turned into an
// identity compromise.
func New(selfTester admin.SelfTester, identitySecret, pubkeyHex string, log *slog.Logger) *Server {
	key := sha256.Sum256([]byte("video-dvm-self-test:" + identitySecret))
	s := &Server{
		selfTester: selfTester,
		signingKey: key[:],
		pubkeyHex:  pubkeyHex,
		startedAt:  time.Now(),
		log:        log,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/self-test", s.handleSelfTest)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// IssueSelfTestToken mints a short-lived HMAC-signed bearer token for
// the /self-test endpoint; used by the CLI/admin tooling, never
// exposed to arbitrary overlay peers.
func (s *Server) IssueSelfTestToken() (string, error) {
	claims := jwt.MapClaims{
		"sub": s.pubkeyHex,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(selfTestTokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime_secs": int64(time.Since(s.startedAt).Seconds()),
		"pubkey":      s.pubkeyHex,
	})
}

func (s *Server) handleSelfTest(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	result, err := s.selfTester.SelfTest(r.Context())
	if err != nil {
		s.log.Error("self-test failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":              result.Success,
		"duration_ms":     int64(result.EncodeTimeSecs * 1000),
		"encoder_backend": result.Hwaccel,
	})
}

func (s *Server) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	tokenString := auth[len(prefix):]

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	return err == nil && token.Valid
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
