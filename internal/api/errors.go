package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrIllegalTransition),
		errors.Is(err, pipeline.ErrStaleState),
		errors.Is(err, pipeline.ErrDuplicateSlug),
		errors.Is(err, pipeline.ErrPageExists):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrCrawlFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Unmapped errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return pipeline.Invalid("body", "is empty")
		}
		return pipeline.Invalid("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
