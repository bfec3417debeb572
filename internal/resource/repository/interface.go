package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MembershipStatus is the Whop membership state we track.
type MembershipStatus string

const (
	MembershipValid       MembershipStatus = "valid"
	MembershipDeactivated MembershipStatus = "deactivated"
)

// Resource is a tenant product or plan that trigger filters refer to.
type Resource struct {
	ID            uuid.UUID `db:"id"`
	ExperienceID  string    `db:"experience_id"`
	Name          string    `db:"name"`
	WhopProductID *string   `db:"whop_product_id"`
	WhopPlanID    *string   `db:"whop_plan_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Membership is a user's ownership record for a Whop product.
type Membership struct {
	ID               uuid.UUID        `db:"id"`
	ExperienceID     string           `db:"experience_id"`
	WhopUserID       string           `db:"whop_user_id"`
	WhopMembershipID string           `db:"whop_membership_id"`
	WhopProductID    *string          `db:"whop_product_id"`
	WhopPlanID       *string          `db:"whop_plan_id"`
	Status           MembershipStatus `db:"status"`
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

// CreateResourceParams contains data for creating a resource.
type CreateResourceParams struct {
	ExperienceID  string
	Name          string
	WhopProductID *string
	WhopPlanID    *string
}

// UpsertMembershipParams identifies a membership by its Whop ID.
type UpsertMembershipParams struct {
	ExperienceID     string
	WhopUserID       string
	WhopMembershipID string
	WhopProductID    *string
	WhopPlanID       *string
	Status           MembershipStatus
}

// Repository defines resource and membership persistence.
type Repository interface {
	CreateResource(ctx context.Context, params CreateResourceParams) (Resource, error)
	ListResources(ctx context.Context, experienceID string) ([]Resource, error)
	DeleteResource(ctx context.Context, experienceID string, id uuid.UUID) error

	// FindResourceForProduct matches a resource by whop_product_id or by
	// whop_plan_id; empty IDs never match. A product match wins over a plan
	// match. Returns nil when the tenant has no such resource.
	FindResourceForProduct(ctx context.Context, experienceID, productID, planID string) (*Resource, error)

	// GetMemberResourceIDs returns resources backed by the user's valid memberships.
	GetMemberResourceIDs(ctx context.Context, experienceID, whopUserID string) ([]uuid.UUID, error)

	UpsertMembership(ctx context.Context, params UpsertMembershipParams) (Membership, error)
}
