package httpadapter

import (
	"net/http"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsRejection(err):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// submissionOutcome labels a submit result for metrics.
func submissionOutcome(err error) string {
	if err == nil {
		return "accepted"
	}
	if domain.IsRejection(err) {
		return "rejected"
	}
	return "error"
}
