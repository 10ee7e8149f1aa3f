package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/agora/internal/models"
)

// Sentinel errors for control plane operations. They are wrapped in a
// models.Error so callers can match either the kind or the sentinel.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrNoBids             = errors.New("no agent submitted a bid")
	ErrExecutionTimeout   = errors.New("execution timed out")
)

func notFound(op string, sentinel error, id string) error {
	return &models.Error{Kind: models.KindNotFound, Op: op, Reason: sentinel.Error() + ": " + id, Err: sentinel}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindCapacity:
		return http.StatusUnprocessableEntity
	case models.KindTransient:
		return http.StatusServiceUnavailable
	case models.KindPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
