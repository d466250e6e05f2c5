package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// PlanService administers commission plan levels.
type PlanService struct {
	plans     PlanStore
	ledger    LedgerStore
	planID    string
	maxLevels int
}

// NewPlanService creates a new PlanService instance.
func NewPlanService(plans PlanStore, ledger LedgerStore, planID string, maxLevels int) *PlanService {
	return &PlanService{plans: plans, ledger: ledger, planID: planID, maxLevels: maxLevels}
}

// Structure lists the plan levels for structure with what userID earned at
// each level. A zero userID skips the earnings lookup.
func (s *PlanService) Structure(ctx context.Context, userID uuid.UUID, structure model.StructureType) ([]*model.CommissionLevel, error) {
	if !structure.Valid() {
		return nil, fmt.Errorf("%w: unknown structure type %q", model.ErrValidation, structure)
	}
	levels, err := s.plans.ListLevels(ctx, s.planID, structure)
	if err != nil {
		return nil, err
	}
	if userID == uuid.Nil {
		return levels, nil
	}

	earned, err := s.ledger.SumCommissionByLevel(ctx, userID, structure)
	if err != nil {
		return nil, err
	}
	for _, l := range levels {
		l.EarnedMinor = earned[l.Level]
	}
	return levels, nil
}

// SetLevel creates or replaces one level of the active plan.
func (s *PlanService) SetLevel(ctx context.Context, structure model.StructureType, level int, percent decimal.Decimal, description *string) (*model.CommissionLevel, error) {
	switch {
	case !structure.Valid():
		return nil, fmt.Errorf("%w: unknown structure type %q", model.ErrValidation, structure)
	case level < 1 || (s.maxLevels > 0 && level > s.maxLevels):
		return nil, fmt.Errorf("%w: level must be between 1 and %d", model.ErrValidation, s.maxLevels)
	case percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)):
		return nil, fmt.Errorf("%w: percent must be between 0 and 100", model.ErrValidation)
	}

	l := &model.CommissionLevel{
		PlanID:        s.planID,
		StructureType: structure,
		Level:         level,
		Percent:       percent,
		Description:   description,
	}
	if err := s.plans.SetLevel(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// DeleteLevel removes a level so that depth pays nothing.
func (s *PlanService) DeleteLevel(ctx context.Context, structure model.StructureType, level int) error {
	if !structure.Valid() {
		return fmt.Errorf("%w: unknown structure type %q", model.ErrValidation, structure)
	}
	return s.plans.DeleteLevel(ctx, s.planID, structure, level)
}
