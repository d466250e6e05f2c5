package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// PlanRepository handles commission plan levels.
type PlanRepository struct {
	pool *pgxpool.Pool
}

// NewPlanRepository creates a new PlanRepository instance.
func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// ListLevels returns the configured levels of one plan structure ordered by level.
// Levels without a row are simply absent.
func (r *PlanRepository) ListLevels(ctx context.Context, planID string, structure model.StructureType) ([]*model.CommissionLevel, error) {
	const query = `
		SELECT plan_id, structure_type, level, percent::text, description
		FROM commission_plan_levels
		WHERE plan_id = $1 AND structure_type = $2
		ORDER BY level
	`
	rows, err := r.pool.Query(ctx, query, planID, string(structure))
	if err != nil {
		return nil, fmt.Errorf("failed to list plan levels: %w", err)
	}
	defer rows.Close()

	var levels []*model.CommissionLevel
	for rows.Next() {
		var (
			l       model.CommissionLevel
			st      string
			percent string
		)
		if err := rows.Scan(&l.PlanID, &st, &l.Level, &percent, &l.Description); err != nil {
			return nil, fmt.Errorf("failed to scan plan level: %w", err)
		}
		l.StructureType = model.StructureType(st)
		l.Percent, err = decimal.NewFromString(percent)
		if err != nil {
			return nil, fmt.Errorf("invalid percent %q at level %d: %w", percent, l.Level, err)
		}
		levels = append(levels, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan levels: %w", err)
	}
	return levels, nil
}

// SetLevel creates or replaces one level.
func (r *PlanRepository) SetLevel(ctx context.Context, l *model.CommissionLevel) error {
	const query = `
		INSERT INTO commission_plan_levels (plan_id, structure_type, level, percent, description)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (plan_id, structure_type, level)
		DO UPDATE SET percent = EXCLUDED.percent, description = EXCLUDED.description
	`
	_, err := r.pool.Exec(ctx, query, l.PlanID, string(l.StructureType), l.Level, l.Percent.String(), l.Description)
	if err != nil {
		return fmt.Errorf("failed to set plan level: %w", err)
	}
	return nil
}

// DeleteLevel removes a level so that depth pays nothing.
func (r *PlanRepository) DeleteLevel(ctx context.Context, planID string, structure model.StructureType, level int) error {
	const query = `
		DELETE FROM commission_plan_levels
		WHERE plan_id = $1 AND structure_type = $2 AND level = $3
	`
	result, err := r.pool.Exec(ctx, query, planID, string(structure), level)
	if err != nil {
		return fmt.Errorf("failed to delete plan level: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: plan %s/%s level %d", model.ErrNotFound, planID, structure, level)
	}
	return nil
}
