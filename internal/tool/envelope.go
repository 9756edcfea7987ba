package tool

import (
	"context"
	"errors"

	"github.com/mistakeknot/agentmail/internal/core"
)

// ErrorEnvelope is the stable wire form of every failure:
// {code, name, message, details?}. Messages never leak store internals;
// details carries machine-readable context only.
type ErrorEnvelope struct {
	Code    int            `json:"code"`
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ErrorEnvelope) Error() string { return e.Name + ": " + e.Message }

// Envelope maps any controller error onto the stable envelope.
func Envelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ErrorEnvelope{
			Code:    core.KindTimeout.Code,
			Name:    core.KindTimeout.Name,
			Message: "deadline exceeded before the operation committed",
		}
	}
	var typed *core.Error
	if errors.As(err, &typed) {
		return &ErrorEnvelope{
			Code:    typed.Kind.Code,
			Name:    typed.Kind.Name,
			Message: typed.Message,
			Details: typed.Details,
		}
	}
	return &ErrorEnvelope{
		Code:    core.KindInternal.Code,
		Name:    core.KindInternal.Name,
		Message: "internal error",
	}
}

// HTTPStatus picks the REST status for an envelope.
func (e *ErrorEnvelope) HTTPStatus() int {
	switch e.Code {
	case core.KindInvalidArgument.Code, core.KindSchemaViolation.Code, core.KindEmptyRecipients.Code:
		return 400
	case core.KindUnauthorized.Code:
		return 401
	case core.KindPolicyDenied.Code, core.KindNotOwner.Code:
		return 403
	case core.KindProjectNotFound.Code, core.KindAgentNotFound.Code, core.KindMessageNotFound.Code,
		core.KindReservationNotFound.Code, core.KindBuildSlotNotFound.Code, core.KindAttachmentNotFound.Code,
		core.KindContactNotFound.Code, core.KindProductNotFound.Code, core.KindMacroNotFound.Code,
		core.KindToolNotFound.Code:
		return 404
	case core.KindNameCollision.Code, core.KindReservationConflict.Code, core.KindBuildSlotHeld.Code,
		core.KindAlreadyReleased.Code:
		return 409
	case core.KindRateLimited.Code:
		return 429
	case core.KindTimeout.Code:
		return 504
	default:
		return 500
	}
}
