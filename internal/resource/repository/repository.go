package repository

import (
	"context"
	"errors"
	"fmt"

	"funnel_builder_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreateResource   = "resource.repository.create"
	opListResources    = "resource.repository.list"
	opDeleteResource   = "resource.repository.delete"
	opFindForProduct   = "resource.repository.find_for_product"
	opMemberResources  = "resource.repository.member_resources"
	opUpsertMembership = "resource.repository.upsert_membership"
)

const resourceColumns = `id, experience_id, name, whop_product_id, whop_plan_id, created_at, updated_at`

// Repo implements Repository on Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new resource repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check.
var _ Repository = (*Repo)(nil)

func scanResource(row pgx.Row) (Resource, error) {
	var r Resource
	err := row.Scan(&r.ID, &r.ExperienceID, &r.Name, &r.WhopProductID, &r.WhopPlanID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *Repo) CreateResource(ctx context.Context, params CreateResourceParams) (Resource, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO resources (experience_id, name, whop_product_id, whop_plan_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+resourceColumns,
		params.ExperienceID, params.Name, params.WhopProductID, params.WhopPlanID,
	)
	res, err := scanResource(row)
	if err != nil {
		return Resource{}, apperr.Wrap(apperr.KindInternal, "create resource failed", err).WithOp(opCreateResource)
	}
	return res, nil
}

func (r *Repo) ListResources(ctx context.Context, experienceID string) ([]Resource, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+resourceColumns+`
		FROM resources
		WHERE experience_id = $1
		ORDER BY name ASC`, experienceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list resources failed", err).WithOp(opListResources)
	}
	defer rows.Close()

	items := make([]Resource, 0)
	for rows.Next() {
		res, scanErr := scanResource(rows)
		if scanErr != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan resource failed", scanErr).WithOp(opListResources)
		}
		items = append(items, res)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "iterate resources failed", err).WithOp(opListResources)
	}
	return items, nil
}

func (r *Repo) DeleteResource(ctx context.Context, experienceID string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM resources WHERE id = $1 AND experience_id = $2`, id, experienceID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete resource failed", err).WithOp(opDeleteResource)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("resource not found").WithOp(opDeleteResource)
	}
	return nil
}

func (r *Repo) FindResourceForProduct(ctx context.Context, experienceID, productID, planID string) (*Resource, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+resourceColumns+`
		FROM resources
		WHERE experience_id = $1
		  AND ((NULLIF($2, '') IS NOT NULL AND (whop_product_id = $2 OR whop_plan_id = $2))
		    OR (NULLIF($3, '') IS NOT NULL AND whop_plan_id = $3))
		ORDER BY (whop_product_id = $2) DESC NULLS LAST, created_at ASC
		LIMIT 1`, experienceID, productID, planID)
	res, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opFindForProduct, err)
	}
	return &res, nil
}

func (r *Repo) GetMemberResourceIDs(ctx context.Context, experienceID, whopUserID string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT res.id
		FROM memberships m
		JOIN resources res
		  ON res.experience_id = m.experience_id
		 AND ((m.whop_product_id IS NOT NULL AND res.whop_product_id = m.whop_product_id)
		   OR (m.whop_plan_id IS NOT NULL AND res.whop_plan_id = m.whop_plan_id))
		WHERE m.experience_id = $1 AND m.whop_user_id = $2 AND m.status = 'valid'`,
		experienceID, whopUserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opMemberResources, err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opMemberResources, err)
	}
	return ids, nil
}

func (r *Repo) UpsertMembership(ctx context.Context, params UpsertMembershipParams) (Membership, error) {
	var m Membership
	var status string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO memberships (experience_id, whop_user_id, whop_membership_id, whop_product_id, whop_plan_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (experience_id, whop_membership_id) DO UPDATE
		SET whop_user_id = EXCLUDED.whop_user_id,
		    whop_product_id = COALESCE(EXCLUDED.whop_product_id, memberships.whop_product_id),
		    whop_plan_id = COALESCE(EXCLUDED.whop_plan_id, memberships.whop_plan_id),
		    status = EXCLUDED.status,
		    updated_at = now()
		RETURNING id, experience_id, whop_user_id, whop_membership_id, whop_product_id, whop_plan_id, status, created_at, updated_at`,
		params.ExperienceID, params.WhopUserID, params.WhopMembershipID, params.WhopProductID, params.WhopPlanID, string(params.Status),
	).Scan(&m.ID, &m.ExperienceID, &m.WhopUserID, &m.WhopMembershipID, &m.WhopProductID, &m.WhopPlanID, &status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Membership{}, apperr.Wrap(apperr.KindInternal, "upsert membership failed", err).WithOp(opUpsertMembership)
	}
	m.Status = MembershipStatus(status)
	return m, nil
}
