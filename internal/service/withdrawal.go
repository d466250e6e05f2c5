package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

// withdrawalNamespace seeds deterministic withdrawal ids.
var withdrawalNamespace = uuid.MustParse("6f1c7a52-3d0e-4b8e-9a41-2c5d7e9f0b13")

// RuleOutcome is the result of one auto-withdraw rule in a sweep.
type RuleOutcome string

// Rule outcomes.
const (
	RuleCreated        RuleOutcome = "created"
	RuleDuplicate      RuleOutcome = "duplicate"
	RuleBelowThreshold RuleOutcome = "below_threshold"
	RuleFailed         RuleOutcome = "failed"
)

// RuleResult reports one rule of a sweep.
type RuleResult struct {
	UserID       uuid.UUID   `json:"user_id"`
	Outcome      RuleOutcome `json:"outcome"`
	WithdrawalID *uuid.UUID  `json:"withdrawal_id,omitempty"`
	AmountMinor  int64       `json:"amount_minor,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// SweepResult reports a whole auto-withdrawal sweep.
type SweepResult struct {
	Evaluated   int          `json:"evaluated"`
	Created     int          `json:"created"`
	Failed      int          `json:"failed"`
	Interrupted bool         `json:"interrupted"`
	Rules       []RuleResult `json:"rules"`
}

// Counts reports withdrawals created as processed.
func (r *SweepResult) Counts() map[string]int {
	return map[string]int{"processed": r.Created}
}

// PeriodKey names the schedule period containing t, e.g. 2026-10-17,
// 2026-W42 or 2026-10.
func PeriodKey(schedule model.WithdrawSchedule, t time.Time) string {
	switch schedule {
	case model.ScheduleDaily:
		return t.Format("2006-01-02")
	case model.ScheduleWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return t.Format("2006-01")
	}
}

// WithdrawalID is derived from the user and the schedule period so that
// every sweep inside one period proposes the same id and source_ref.
func WithdrawalID(userID uuid.UUID, period string) uuid.UUID {
	return uuid.NewSHA1(withdrawalNamespace, []byte(userID.String()+"/"+period))
}

// WithdrawalScheduler turns enabled auto-withdraw rules into withdrawal
// requests. Overlapping runs are safe: a repeated request collides on its
// source_ref.
type WithdrawalScheduler struct {
	withdrawals WithdrawalStore
	ledger      LedgerStore
	events      events.Publisher
	clock       clock.Clock
	loc         *time.Location
	currency    string
	feeMinor    int64
}

// NewWithdrawalScheduler creates a new WithdrawalScheduler instance.
func NewWithdrawalScheduler(
	withdrawals WithdrawalStore,
	ledger LedgerStore,
	publisher events.Publisher,
	c clock.Clock,
	loc *time.Location,
	currency string,
	feeMinor int64,
) *WithdrawalScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &WithdrawalScheduler{
		withdrawals: withdrawals,
		ledger:      ledger,
		events:      publisher,
		clock:       c,
		loc:         loc,
		currency:    currency,
		feeMinor:    feeMinor,
	}
}

// SaveRule validates and stores a user's rule.
func (s *WithdrawalScheduler) SaveRule(ctx context.Context, rule *model.AutoWithdrawRule) (*model.AutoWithdrawRule, error) {
	switch {
	case rule.UserID == uuid.Nil:
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	case !rule.Schedule.Valid():
		return nil, fmt.Errorf("%w: unknown schedule %q", model.ErrValidation, rule.Schedule)
	case rule.ThresholdMinor < 0 || rule.MinAmountMinor < 0:
		return nil, fmt.Errorf("%w: threshold and min amount must not be negative", model.ErrValidation)
	}
	return s.withdrawals.SaveRule(ctx, rule)
}

// GetRule returns a user's rule.
func (s *WithdrawalScheduler) GetRule(ctx context.Context, userID uuid.UUID) (*model.AutoWithdrawRule, error) {
	return s.withdrawals.GetRule(ctx, userID)
}

// Run evaluates every enabled rule once. A failing rule is reported and
// the sweep moves on. When ctx ends mid-sweep the remaining rules are left
// for the next run.
func (s *WithdrawalScheduler) Run(ctx context.Context) (*SweepResult, error) {
	rules, err := s.withdrawals.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-withdraw rules: %w", err)
	}

	result := &SweepResult{Rules: make([]RuleResult, 0, len(rules))}
	for _, rule := range rules {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		rr := s.processRule(ctx, rule)
		result.Rules = append(result.Rules, rr)
		result.Evaluated++
		switch rr.Outcome {
		case RuleCreated:
			result.Created++
		case RuleFailed:
			result.Failed++
		}
	}

	log.Info().
		Int("rules", len(rules)).
		Int("evaluated", result.Evaluated).
		Int("created", result.Created).
		Int("failed", result.Failed).
		Bool("interrupted", result.Interrupted).
		Msg("Auto-withdrawal sweep finished")
	return result, nil
}

func (s *WithdrawalScheduler) processRule(ctx context.Context, rule *model.AutoWithdrawRule) RuleResult {
	rr := RuleResult{UserID: rule.UserID}
	now := s.clock.Now()

	balance, err := s.ledger.GetBalance(ctx, rule.UserID, now)
	if err != nil {
		return s.ruleFailed(rr, fmt.Errorf("failed to get balance: %w", err))
	}

	amount := balance.WithdrawableMinor()
	if amount <= 0 || amount < rule.ThresholdMinor || amount < rule.MinAmountMinor {
		rr.Outcome = RuleBelowThreshold
		return rr
	}

	period := PeriodKey(rule.Schedule, now.In(s.loc))
	id := WithdrawalID(rule.UserID, period)
	ref := model.AutoWithdrawalSourceRef(id)

	w := &model.Withdrawal{
		ID:          id,
		UserID:      rule.UserID,
		MethodID:    rule.MethodID,
		AmountMinor: amount,
		FeeMinor:    s.feeMinor,
		Status:      model.WithdrawalProcessing,
	}
	tx := &model.Transaction{
		UserID:      rule.UserID,
		Type:        model.TxTypeWithdrawal,
		AmountMinor: -amount,
		Currency:    s.currency,
		Status:      model.TxStatusProcessing,
		SourceID:    &id,
		SourceRef:   &ref,
		CreatedAt:   now,
		Payload: model.WithdrawalPayload{
			WithdrawalID: id,
			MethodID:     rule.MethodID,
			FeeMinor:     s.feeMinor,
			Trigger:      "auto",
			Period:       period,
		},
	}

	rr.WithdrawalID = &id
	stored, _, err := s.withdrawals.Create(ctx, w, tx)
	switch {
	case err == nil:
		rr.Outcome = RuleCreated
		rr.AmountMinor = amount
		log.Info().
			Str("user_id", rule.UserID.String()).
			Str("withdrawal_id", id.String()).
			Int64("amount_minor", amount).
			Str("period", period).
			Msg("Auto-withdrawal requested")
		publish(ctx, s.events, s.clock, events.WithdrawalRequested, stored)
	case errors.Is(err, model.ErrDuplicateEvent):
		rr.Outcome = RuleDuplicate
		if stored != nil {
			rr.AmountMinor = stored.AmountMinor
		}
	default:
		return s.ruleFailed(rr, err)
	}
	return rr
}

func (s *WithdrawalScheduler) ruleFailed(rr RuleResult, err error) RuleResult {
	log.Error().Err(err).Str("user_id", rr.UserID.String()).Msg("Auto-withdraw rule failed")
	rr.Outcome = RuleFailed
	rr.Error = err.Error()
	return rr
}
