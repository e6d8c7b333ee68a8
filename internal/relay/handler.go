// Package relay implements the streaming relay handler: it accepts one
// client generation request, forwards it to the upstream Gemini API with the
// server-held credential attached, and pipes the generated text back to the
// caller chunk by chunk.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/elijah-legal/ai-chat/internal/gemini"
	"github.com/elijah-legal/ai-chat/internal/server"
)

// maxRequestBody bounds how much of the client payload is buffered before the
// upstream call. Chat payloads are small; this is a hard cap, not a quota.
const maxRequestBody = 8 << 20

// misconfiguredMessage is the fixed client-visible text for a missing
// credential. It must never hint at the credential's name or value.
const misconfiguredMessage = "generation service is not configured"

// Upstream is the slice of the Gemini client the relay depends on.
type Upstream interface {
	StreamGenerateContent(ctx context.Context, payload []byte) (<-chan gemini.StreamResult, error)
}

type Handler struct {
	upstream Upstream
	logger   *slog.Logger
}

// NewHandler builds the relay handler. A nil upstream marks the process as
// misconfigured (no credential at startup): every request is answered with a
// 500 and no upstream call is ever attempted.
func NewHandler(upstream Upstream, logger *slog.Logger) *Handler {
	return &Handler{upstream: upstream, logger: logger}
}

// HandleChat relays one generation request. The payload is treated as opaque
// JSON and forwarded as received; schema validation is the upstream's job.
//
// Once the 200 status and headers are committed and the first chunk is
// written, a later upstream failure can only be surfaced by ending the body
// early. A client therefore cannot tell a clean upstream end-of-stream from a
// dropped upstream connection; there is no trailing sentinel to disambiguate
// the two.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	requestID := server.GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}

	if h.upstream == nil {
		h.logger.Error("rejecting request: no upstream credential configured",
			slog.String("request_id", requestID),
		)
		writeError(w, http.StatusInternalServerError, misconfiguredMessage)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		server.AddError(r.Context(), err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	stream, err := h.upstream.StreamGenerateContent(r.Context(), payload)
	if err != nil {
		server.AddError(r.Context(), err)

		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) {
			// Mirror the upstream status; the message is already a
			// bounded excerpt of untrusted upstream text.
			h.logger.Error("upstream rejected generation request",
				slog.String("request_id", requestID),
				slog.Int("upstream_status", apiErr.StatusCode),
				slog.String("upstream_code", apiErr.Status),
			)
			writeError(w, apiErr.StatusCode, apiErr.Message)
			return
		}

		// Transport-level failure: the call never completed. Single
		// attempt only, no retry.
		h.logger.Error("upstream call failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "upstream request failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		server.AddError(r.Context(), errors.New("response writer does not support streaming"))
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Flush before the first chunk so the client connection is established
	// even while the model is still thinking.
	flusher.Flush()

	var chunks, written int
	for result := range stream {
		if result.Err != nil {
			// Headers are committed; ending the body early is the
			// only remaining signal.
			h.logger.Error("stream interrupted",
				slog.String("request_id", requestID),
				slog.String("error", result.Err.Error()),
				slog.Int("chunks_forwarded", chunks),
			)
			server.AddError(r.Context(), result.Err)
			return
		}

		text := result.Chunk.Text()
		if text == "" {
			continue
		}
		if _, err := io.WriteString(w, text); err != nil {
			// Client went away; the request context cancels the
			// upstream read on return.
			h.logger.Warn("client write failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
			return
		}
		flusher.Flush()
		chunks++
		written += len(text)
	}

	server.AddLogField(r.Context(), "chunks", strconv.Itoa(chunks))
	server.AddLogField(r.Context(), "bytes_streamed", strconv.Itoa(written))
}

// writeError emits the small JSON error payload used on every non-streaming
// exit path.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message},
	})
}
