// Package repository persists funnels and their trigger configuration.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate         = "funnel.repository.create"
	opGet            = "funnel.repository.get"
	opList           = "funnel.repository.list"
	opListDeployed   = "funnel.repository.list_deployed"
	opUpdateFlow     = "funnel.repository.update_flow"
	opUpdateTriggers = "funnel.repository.update_triggers"
	opDeploy         = "funnel.repository.deploy"
	opUndeploy       = "funnel.repository.undeploy"
	opDelete         = "funnel.repository.delete"

	msgFunnelNotFound = "funnel not found"
)

const funnelColumns = `id, experience_id, name, flow, version, is_deployed, is_draft,
	app_trigger, membership_trigger, target_funnel_id, created_at, updated_at`

// CreateParams contains data for creating a funnel. Flow must already be
// validated JSON.
type CreateParams struct {
	ExperienceID      string
	Name              string
	Flow              []byte
	AppTrigger        *domain.AppTrigger
	MembershipTrigger *domain.MembershipTrigger
	TargetFunnelID    *uuid.UUID
}

// UpdateTriggersParams replaces a funnel's trigger configuration.
type UpdateTriggersParams struct {
	ID                uuid.UUID
	ExperienceID      string
	AppTrigger        *domain.AppTrigger
	MembershipTrigger *domain.MembershipTrigger
	TargetFunnelID    *uuid.UUID
}

// Repository defines funnel persistence.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (domain.Funnel, error)
	Get(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error)
	List(ctx context.Context, experienceID string) ([]domain.Funnel, error)
	ListAllDeployed(ctx context.Context) ([]domain.Funnel, error)
	ListDeployedFunnels(ctx context.Context, experienceID string, triggerType domain.TriggerType) ([]domain.Funnel, error)
	UpdateFlow(ctx context.Context, experienceID string, id uuid.UUID, flow []byte) (domain.Funnel, error)
	UpdateTriggers(ctx context.Context, params UpdateTriggersParams) (domain.Funnel, error)
	Deploy(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error)
	Undeploy(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error)
	Delete(ctx context.Context, experienceID string, id uuid.UUID) error
}

// Repo implements Repository on Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new funnel repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// scanFunnel decodes a row. A flow that fails validation is reported through
// FlowError and the read still succeeds.
func scanFunnel(row pgx.Row) (domain.Funnel, error) {
	var (
		f                     domain.Funnel
		flowRaw, appRaw, mRaw []byte
	)
	if err := row.Scan(&f.ID, &f.ExperienceID, &f.Name, &flowRaw, &f.Version, &f.IsDeployed, &f.IsDraft,
		&appRaw, &mRaw, &f.TargetFunnelID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return domain.Funnel{}, err
	}

	f.Flow, f.FlowError = domain.ParseFlow(flowRaw)

	if len(appRaw) > 0 {
		var t domain.AppTrigger
		if err := json.Unmarshal(appRaw, &t); err != nil {
			return domain.Funnel{}, fmt.Errorf("decode app trigger: %w", err)
		}
		f.AppTrigger = &t
	}
	if len(mRaw) > 0 {
		var t domain.MembershipTrigger
		if err := json.Unmarshal(mRaw, &t); err != nil {
			return domain.Funnel{}, fmt.Errorf("decode membership trigger: %w", err)
		}
		f.MembershipTrigger = &t
	}
	return f, nil
}

func collectFunnels(rows pgx.Rows) ([]domain.Funnel, error) {
	defer rows.Close()
	items := make([]domain.Funnel, 0)
	for rows.Next() {
		f, err := scanFunnel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

type triggerColumns struct {
	appType, memType *string
	app, mem         []byte
}

func encodeTriggers(app *domain.AppTrigger, mem *domain.MembershipTrigger) (triggerColumns, error) {
	var tc triggerColumns
	if app != nil {
		raw, err := json.Marshal(app)
		if err != nil {
			return tc, err
		}
		t := string(app.Type)
		tc.appType, tc.app = &t, raw
	}
	if mem != nil {
		raw, err := json.Marshal(mem)
		if err != nil {
			return tc, err
		}
		t := string(mem.Type)
		tc.memType, tc.mem = &t, raw
	}
	return tc, nil
}

func (r *Repo) Create(ctx context.Context, params CreateParams) (domain.Funnel, error) {
	tc, err := encodeTriggers(params.AppTrigger, params.MembershipTrigger)
	if err != nil {
		return domain.Funnel{}, apperr.Wrap(apperr.KindInternal, "encode triggers failed", err).WithOp(opCreate)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO funnels (experience_id, name, flow, app_trigger_type, app_trigger,
			membership_trigger_type, membership_trigger, target_funnel_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+funnelColumns,
		params.ExperienceID, params.Name, params.Flow, tc.appType, tc.app, tc.memType, tc.mem, params.TargetFunnelID,
	)
	f, err := scanFunnel(row)
	if err != nil {
		return domain.Funnel{}, apperr.Wrap(apperr.KindInternal, "create funnel failed", err).WithOp(opCreate)
	}
	return f, nil
}

func (r *Repo) Get(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+funnelColumns+` FROM funnels WHERE id = $1 AND experience_id = $2`, id, experienceID)
	f, err := scanFunnel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Funnel{}, apperr.NotFound(msgFunnelNotFound).WithOp(opGet)
	}
	if err != nil {
		return domain.Funnel{}, apperr.Wrap(apperr.KindInternal, "get funnel failed", err).WithOp(opGet)
	}
	return f, nil
}

func (r *Repo) List(ctx context.Context, experienceID string) ([]domain.Funnel, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+funnelColumns+` FROM funnels WHERE experience_id = $1 ORDER BY created_at ASC`, experienceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list funnels failed", err).WithOp(opList)
	}
	items, err := collectFunnels(rows)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "scan funnels failed", err).WithOp(opList)
	}
	return items, nil
}

// ListAllDeployed returns every live funnel across experiences.
func (r *Repo) ListAllDeployed(ctx context.Context) ([]domain.Funnel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+funnelColumns+`
		FROM funnels
		WHERE is_deployed AND NOT is_draft
		ORDER BY experience_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opListDeployed, err)
	}
	return collectFunnels(rows)
}

// ListDeployedFunnels returns the live funnels configured with triggerType.
func (r *Repo) ListDeployedFunnels(ctx context.Context, experienceID string, triggerType domain.TriggerType) ([]domain.Funnel, error) {
	column := "app_trigger_type"
	if triggerType.IsMembership() {
		column = "membership_trigger_type"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+funnelColumns+`
		FROM funnels
		WHERE experience_id = $1 AND is_deployed AND NOT is_draft AND `+column+` = $2
		ORDER BY created_at ASC`, experienceID, string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opListDeployed, err)
	}
	items, err := collectFunnels(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opListDeployed, err)
	}
	return items, nil
}

// UpdateFlow stores a new flow document. Deployed funnels keep serving the
// edit only after the next deploy, so the row is flagged as a draft.
func (r *Repo) UpdateFlow(ctx context.Context, experienceID string, id uuid.UUID, flow []byte) (domain.Funnel, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE funnels SET flow = $3, is_draft = TRUE, updated_at = now()
		WHERE id = $1 AND experience_id = $2
		RETURNING `+funnelColumns, id, experienceID, flow)
	return r.scanUpdated(row, opUpdateFlow)
}

func (r *Repo) UpdateTriggers(ctx context.Context, params UpdateTriggersParams) (domain.Funnel, error) {
	tc, err := encodeTriggers(params.AppTrigger, params.MembershipTrigger)
	if err != nil {
		return domain.Funnel{}, apperr.Wrap(apperr.KindInternal, "encode triggers failed", err).WithOp(opUpdateTriggers)
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE funnels
		SET app_trigger_type = $3, app_trigger = $4,
		    membership_trigger_type = $5, membership_trigger = $6,
		    target_funnel_id = $7, updated_at = now()
		WHERE id = $1 AND experience_id = $2
		RETURNING `+funnelColumns,
		params.ID, params.ExperienceID, tc.appType, tc.app, tc.memType, tc.mem, params.TargetFunnelID)
	return r.scanUpdated(row, opUpdateTriggers)
}

// Deploy publishes the current flow as a new version.
func (r *Repo) Deploy(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE funnels
		SET is_deployed = TRUE, is_draft = FALSE, version = version + 1, updated_at = now()
		WHERE id = $1 AND experience_id = $2
		RETURNING `+funnelColumns, id, experienceID)
	return r.scanUpdated(row, opDeploy)
}

func (r *Repo) Undeploy(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE funnels SET is_deployed = FALSE, updated_at = now()
		WHERE id = $1 AND experience_id = $2
		RETURNING `+funnelColumns, id, experienceID)
	return r.scanUpdated(row, opUndeploy)
}

func (r *Repo) Delete(ctx context.Context, experienceID string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM funnels WHERE id = $1 AND experience_id = $2`, id, experienceID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperr.Conflict("funnel is still referenced by conversations").WithOp(opDelete)
		}
		return apperr.Wrap(apperr.KindInternal, "delete funnel failed", err).WithOp(opDelete)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgFunnelNotFound).WithOp(opDelete)
	}
	return nil
}

func (r *Repo) scanUpdated(row pgx.Row, op string) (domain.Funnel, error) {
	f, err := scanFunnel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Funnel{}, apperr.NotFound(msgFunnelNotFound).WithOp(op)
	}
	if err != nil {
		return domain.Funnel{}, apperr.Wrap(apperr.KindInternal, "update funnel failed", err).WithOp(op)
	}
	return f, nil
}
