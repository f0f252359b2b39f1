package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goblimey/go-kas-tracker/code/pkg/credential"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	accountKey
)

// requestID gets the id that withRequestID gave the request.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// AccountFromContext gets the account of a request that presented a bearer
// token.
func AccountFromContext(ctx context.Context) (credential.Account, bool) {
	account, ok := ctx.Value(accountKey).(credential.Account)
	return account, ok
}

// statusRecorder remembers the status that was sent and whether the
// headers have gone.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(status int) {
	if !sr.wroteHeader {
		sr.status = status
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	// A write without WriteHeader sends a 200.
	sr.wroteHeader = true
	return sr.ResponseWriter.Write(b)
}

// withRequestID gives each request an id, returns it in the X-Request-Id
// header and writes an access log line when the request is done.
func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()

		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		h.Logger.Info("request",
			"requestId", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start).String())
	})
}

// recoverPanic turns a panic into a 500 response.
func (h *Handler) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				if sr, ok := w.(*statusRecorder); ok && sr.wroteHeader {
					// Too late to send the error envelope.
					h.Logger.Error(fmt.Sprintf("panic after response started: %v", p),
						"requestId", requestID(r.Context()), "method", r.Method, "path", r.URL.Path)
					return
				}
				h.reportError(w, r, fmt.Errorf("panic: %v", p))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds the security and CORS headers and answers CORS
// preflight requests.
func (h *Handler) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Content-Security-Policy", "default-src 'self'")
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("X-XSS-Protection", "1; mode=block")
		header.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		header.Set("Access-Control-Allow-Origin", h.Conf.AllowedOrigin)
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if h.Conf.AllowedOrigin != "*" {
			header.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireToken checks the bearer token when tokens are required.  If role is
// not empty the token must carry that role.
func (h *Handler) requireToken(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.Conf.RequireTokens {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			h.reportError(w, r, fmt.Errorf("%w: no bearer token", credential.ErrInvalidToken))
			return
		}

		account, err := h.Tokens.Parse(strings.TrimSpace(tokenString))
		if err != nil {
			h.reportError(w, r, err)
			return
		}

		if len(role) > 0 && account.Role != role {
			h.reportError(w, r, fmt.Errorf("%s is not %s: %w", account.Identity, role, credential.ErrForbidden))
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, account)
		next(w, r.WithContext(ctx))
	}
}
