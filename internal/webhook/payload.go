package webhook

import (
	"strings"

	"funnel_builder_backend/internal/resource/repository"
	"funnel_builder_backend/internal/trigger"
)

// Whop actions the engine reacts to.
const (
	ActionMembershipWentValid   = "membership.went_valid"
	ActionMembershipDeactivated = "membership.deactivated"
)

// Payload is the Whop webhook envelope.
type Payload struct {
	ID     string         `json:"id"`
	Action string         `json:"action"`
	Data   MembershipData `json:"data"`
}

// MembershipData is the membership object of a membership webhook. Whop
// sends either the bare IDs or the *_id variants depending on API version.
type MembershipData struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	UserID    string `json:"user_id"`
	Product   string `json:"product"`
	ProductID string `json:"product_id"`
	Plan      string `json:"plan"`
	PlanID    string `json:"plan_id"`
	Status    string `json:"status"`
}

// Normalized is a membership webhook in engine terms.
type Normalized struct {
	Context      trigger.Context
	Status       repository.MembershipStatus
	UserID       string
	MembershipID string
	ProductID    string
	PlanID       string
}

var actionContexts = map[string]struct {
	ctx    trigger.Context
	status repository.MembershipStatus
}{
	ActionMembershipWentValid:   {trigger.ContextMembershipActivated, repository.MembershipValid},
	ActionMembershipDeactivated: {trigger.ContextMembershipDeactivated, repository.MembershipDeactivated},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Normalize maps a payload to an engine event. ok is false for actions the
// engine does not handle.
func Normalize(p Payload) (Normalized, bool) {
	mapping, ok := actionContexts[strings.TrimSpace(p.Action)]
	if !ok {
		return Normalized{}, false
	}
	return Normalized{
		Context:      mapping.ctx,
		Status:       mapping.status,
		UserID:       firstNonEmpty(p.Data.UserID, p.Data.User),
		MembershipID: strings.TrimSpace(p.Data.ID),
		ProductID:    firstNonEmpty(p.Data.ProductID, p.Data.Product),
		PlanID:       firstNonEmpty(p.Data.PlanID, p.Data.Plan),
	}, true
}

