package service

import (
	"funnel_builder_backend/platform/apperr"
)

func errNotActive(op string) error {
	return apperr.Conflict("conversation is not active").
		WithReason(apperr.ReasonConversationNotActive).
		WithOp(op)
}

func errOptionNotFound(op, reply string) error {
	return apperr.Validation("reply does not match any option").
		WithReason(apperr.ReasonOptionNotFound).
		WithOp(op).
		WithDetails(map[string]string{"reply": reply})
}

func errLostRace(op string, cause error) error {
	e := apperr.Wrap(apperr.KindConflict, "user already has an active conversation", cause)
	return e.WithReason(apperr.ReasonLostRace).WithOp(op)
}

func errInvalidFlow(op, message string) error {
	return apperr.Internal(message).WithReason(apperr.ReasonInvalidFlow).WithOp(op)
}

// IsNotActive reports whether err is the inactive-conversation no-op.
func IsNotActive(err error) bool {
	return apperr.HasReason(err, apperr.ReasonConversationNotActive)
}

// IsLostRace reports whether err means a concurrent event already started
// a conversation for the user.
func IsLostRace(err error) bool {
	return apperr.HasReason(err, apperr.ReasonLostRace)
}
