package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ka1ii/developer-challenge/gateway/middleware"
	"github.com/ka1ii/developer-challenge/services/agreement-gateway/audit"
)

// headerIdempotentReplay marks responses served from the idempotency cache.
const headerIdempotentReplay = "Idempotent-Replay"

// audited records every mutating request in the audit log. Requests that
// carry an Idempotency-Key are executed once per user and key; repeats with
// the same body receive the stored response.
func (s *Server) audited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readRequestBody(r)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		caller := callerFrom(r)

		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		requestHash := hashRequest(r.Method, r.URL.Path, body)
		if key != "" {
			cached, err := s.audit.LookupIdempotency(r.Context(), caller.Username, key, requestHash)
			switch {
			case errors.Is(err, audit.ErrIdempotencyMismatch):
				writeError(w, http.StatusConflict, "idempotency_mismatch", err)
				s.record(r.Context(), caller, r, body, http.StatusConflict, nil)
				return
			case err != nil:
				s.logger.Error("idempotency lookup failed", slog.String("error", err.Error()))
				writeError(w, http.StatusInternalServerError, "internal_error", errors.New("idempotency store unavailable"))
				return
			case cached != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(headerIdempotentReplay, "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				s.record(r.Context(), caller, r, body, cached.Status, cached.Body)
				return
			}
		}

		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		status := recorder.statusCode()

		// Server-side and recoverable failures stay retryable under the same key.
		if key != "" && status < http.StatusInternalServerError && !recorder.retryable {
			if err := s.audit.SaveIdempotency(r.Context(), caller.Username, key, requestHash, status, recorder.buf.Bytes()); err != nil {
				s.logger.Error("idempotency save failed", slog.String("error", err.Error()))
			}
		}
		s.record(r.Context(), caller, r, body, status, recorder.buf.Bytes())
	})
}

func (s *Server) record(ctx context.Context, caller middleware.Identity, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	entry := audit.Entry{
		RequestID:      middleware.RequestIDFromContext(ctx),
		Username:       caller.Username,
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseStatus: status,
		ResponseBody:   append([]byte(nil), responseBody...),
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.audit.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
}

func readRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}

// responseRecorder captures the response for idempotent replay and audit.
type responseRecorder struct {
	http.ResponseWriter
	buf       bytes.Buffer
	status    int
	retryable bool
}

// markRetryable keeps the response out of the idempotency cache.
func markRetryable(w http.ResponseWriter) {
	if rr, ok := w.(*responseRecorder); ok {
		rr.retryable = true
	}
}

func (rr *responseRecorder) WriteHeader(status int) {
	if rr.status == 0 {
		rr.status = status
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}
