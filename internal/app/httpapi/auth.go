package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

type ctxKey int

const ctxSubjectKey ctxKey = iota

// Auth authenticates requests with either a static API key or a bearer
// token. API keys are compared against bcrypt hashes so the plain keys never
// live in the config file.
type Auth struct {
	apiKeyHashes []string
	jwtSecret    []byte
	log          *logger.Logger
}

// NewAuth builds the middleware. Empty inputs disable the respective scheme;
// with both empty every request is rejected.
func NewAuth(apiKeyHashes []string, jwtSecret string, log *logger.Logger) *Auth {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Auth{apiKeyHashes: apiKeyHashes, jwtSecret: []byte(jwtSecret), log: log}
}

// Middleware rejects requests that carry neither a valid X-API-Key header
// nor a valid bearer token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-API-Key"); key != "" {
			if a.checkAPIKey(key) {
				next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), "api-key")))
				return
			}
			a.log.WithField("remote", r.RemoteAddr).Warn("rejected api key")
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid api key"))
			return
		}

		if raw := bearerToken(r); raw != "" {
			subject, err := a.checkToken(raw)
			if err != nil {
				a.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("rejected bearer token")
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), subject)))
			return
		}

		writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
	})
}

func (a *Auth) checkAPIKey(key string) bool {
	for _, hash := range a.apiKeyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return true
		}
	}
	return false
}

func (a *Auth) checkToken(raw string) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", fmt.Errorf("bearer tokens are not configured")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		subject = "token"
	}
	return subject, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxSubjectKey, subject)
}

func subjectFrom(ctx context.Context) string {
	if s, ok := ctx.Value(ctxSubjectKey).(string); ok {
		return s
	}
	return ""
}
