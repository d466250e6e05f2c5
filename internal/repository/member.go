package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// MemberRepository handles network member persistence.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository creates a new MemberRepository instance.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

const memberColumns = `user_id, sponsor_id, activation_status, referral_code, created_at`

// Create inserts a member. The sponsor is fixed from here on.
// An existing user_id returns model.ErrDuplicateEvent; a taken referral
// code returns model.ErrValidation.
func (r *MemberRepository) Create(ctx context.Context, m *model.NetworkMember) (*model.NetworkMember, error) {
	query := `
		INSERT INTO network_members (user_id, sponsor_id, activation_status, referral_code, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + memberColumns

	status := m.ActivationStatus
	if status == "" {
		status = model.ActivationInactive
	}

	member, err := scanMember(r.pool.QueryRow(ctx, query, m.UserID, m.SponsorID, string(status), m.ReferralCode))
	if err != nil {
		switch uniqueConstraint(err) {
		case "":
		case "network_members_referral_code_key":
			return nil, fmt.Errorf("%w: referral code %q is taken", model.ErrValidation, m.ReferralCode)
		default:
			return nil, fmt.Errorf("%w: member %s already registered", model.ErrDuplicateEvent, m.UserID)
		}
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return member, nil
}

// Get retrieves a member by user id.
func (r *MemberRepository) Get(ctx context.Context, userID uuid.UUID) (*model.NetworkMember, error) {
	query := `SELECT ` + memberColumns + ` FROM network_members WHERE user_id = $1`
	m, err := scanMember(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %s", model.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// GetByReferralCode resolves a referral code to its member.
func (r *MemberRepository) GetByReferralCode(ctx context.Context, code string) (*model.NetworkMember, error) {
	query := `SELECT ` + memberColumns + ` FROM network_members WHERE referral_code = $1`
	m, err := scanMember(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: referral code %q", model.ErrNotFound, code)
		}
		return nil, fmt.Errorf("failed to get member by referral code: %w", err)
	}
	return m, nil
}

// ListChildren returns the direct referrals of every sponsor in sponsorIDs.
func (r *MemberRepository) ListChildren(ctx context.Context, sponsorIDs []uuid.UUID) ([]*model.NetworkMember, error) {
	if len(sponsorIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + memberColumns + ` FROM network_members
		WHERE sponsor_id = ANY($1::uuid[])
		ORDER BY created_at, user_id`

	rows, err := r.pool.Query(ctx, query, uuidStrings(sponsorIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var members []*model.NetworkMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

// SetActivationStatus updates the display status of a member.
func (r *MemberRepository) SetActivationStatus(ctx context.Context, userID uuid.UUID, status model.ActivationStatus) error {
	const query = `UPDATE network_members SET activation_status = $2 WHERE user_id = $1`

	result, err := r.pool.Exec(ctx, query, userID, string(status))
	if err != nil {
		return fmt.Errorf("failed to set activation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: member %s", model.ErrNotFound, userID)
	}
	return nil
}

func scanMember(row pgx.Row) (*model.NetworkMember, error) {
	var (
		m      model.NetworkMember
		status string
	)
	if err := row.Scan(&m.UserID, &m.SponsorID, &status, &m.ReferralCode, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ActivationStatus = model.ActivationStatus(status)
	return &m, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
