package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

// referralCodeAttempts bounds retries on a referral code collision.
const referralCodeAttempts = 3

// NetworkGraph resolves the sponsor tree in both directions.
type NetworkGraph struct {
	members   NetworkStore
	orders    OrderStore
	clock     clock.Clock
	months    *MonthWindow
	maxLevels int
}

// NewNetworkGraph creates a new NetworkGraph. maxLevels is the default
// depth when callers pass 0.
func NewNetworkGraph(members NetworkStore, orders OrderStore, c clock.Clock, months *MonthWindow, maxLevels int) *NetworkGraph {
	return &NetworkGraph{members: members, orders: orders, clock: c, months: months, maxLevels: maxLevels}
}

func (g *NetworkGraph) depth(maxLevel int) int {
	if maxLevel <= 0 || maxLevel > g.maxLevels {
		return g.maxLevels
	}
	return maxLevel
}

// AncestorChain walks sponsor links upwards from userID's sponsor, at
// distance 1..maxLevel. It stops at a member without sponsor. A cycle or a
// dangling sponsor link returns model.ErrIntegrity.
func (g *NetworkGraph) AncestorChain(ctx context.Context, userID uuid.UUID, maxLevel int) ([]model.Ancestor, error) {
	maxLevel = g.depth(maxLevel)

	member, err := g.members.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]bool{userID: true}
	chain := make([]model.Ancestor, 0, maxLevel)
	next := member.SponsorID

	for distance := 1; next != nil && distance <= maxLevel; distance++ {
		sponsorID := *next
		if visited[sponsorID] {
			return nil, fmt.Errorf("%w: sponsor cycle through %s at distance %d", model.ErrIntegrity, sponsorID, distance)
		}
		visited[sponsorID] = true
		chain = append(chain, model.Ancestor{UserID: sponsorID, Distance: distance})

		if distance == maxLevel {
			break
		}
		sponsor, err := g.members.Get(ctx, sponsorID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("%w: dangling sponsor %s", model.ErrIntegrity, sponsorID)
			}
			return nil, err
		}
		next = sponsor.SponsorID
	}
	return chain, nil
}

// Subtree returns the descendants of rootID down to maxLevel in
// breadth-first order, with Level set to the distance from rootID and
// aggregates filled. The root itself is not included.
func (g *NetworkGraph) Subtree(ctx context.Context, rootID uuid.UUID, maxLevel int) ([]*model.NetworkMember, error) {
	maxLevel = g.depth(maxLevel)

	if _, err := g.members.Get(ctx, rootID); err != nil {
		return nil, err
	}

	var (
		members  []*model.NetworkMember
		byID     = make(map[uuid.UUID]*model.NetworkMember)
		visited  = map[uuid.UUID]bool{rootID: true}
		frontier = []uuid.UUID{rootID}
	)

	for level := 1; level <= maxLevel+1 && len(frontier) > 0; level++ {
		children, err := g.members.ListChildren(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to load level %d: %w", level, err)
		}

		frontier = frontier[:0:0]
		for _, child := range children {
			if parent, ok := byID[*child.SponsorID]; ok {
				parent.DirectReferrals++
			}
			// One level past the limit is read only to count direct referrals.
			if level > maxLevel {
				continue
			}
			if visited[child.UserID] {
				return nil, fmt.Errorf("%w: member %s reached twice below %s", model.ErrIntegrity, child.UserID, rootID)
			}
			visited[child.UserID] = true
			child.Level = level
			members = append(members, child)
			byID[child.UserID] = child
			frontier = append(frontier, child.UserID)
		}
	}

	// Breadth-first order means every child follows its sponsor, so a
	// reverse pass accumulates team sizes bottom-up.
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if parent, ok := byID[*m.SponsorID]; ok {
			parent.TotalTeam += 1 + m.TotalTeam
		}
	}

	if err := g.fillVolumes(ctx, members); err != nil {
		return nil, err
	}
	return members, nil
}

func (g *NetworkGraph) fillVolumes(ctx context.Context, members []*model.NetworkMember) error {
	if g.orders == nil || len(members) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	from, to := g.months.Bounds(g.clock.Now())
	volumes, err := g.orders.VolumeByUser(ctx, ids, from, to)
	if err != nil {
		return fmt.Errorf("failed to load monthly volume: %w", err)
	}
	for _, m := range members {
		m.MonthlyVolume = volumes[m.UserID]
	}
	return nil
}

// Stats summarizes the subtree of rootID within the configured depth.
func (g *NetworkGraph) Stats(ctx context.Context, rootID uuid.UUID) (*model.NetworkStats, error) {
	members, err := g.Subtree(ctx, rootID, 0)
	if err != nil {
		return nil, err
	}

	monthStart, _ := g.months.Bounds(g.clock.Now())
	stats := &model.NetworkStats{TotalPartners: len(members)}
	for _, m := range members {
		switch m.ActivationStatus {
		case model.ActivationActive:
			stats.ActivePartners++
		case model.ActivationFrozen:
			stats.FrozenPartners++
		}
		if m.Level > stats.MaxLevel {
			stats.MaxLevel = m.Level
		}
		if !m.CreatedAt.Before(monthStart) {
			stats.NewThisMonth++
		}
		stats.VolumeMonth += m.MonthlyVolume
	}
	return stats, nil
}

// RegisterMember adds userID to the tree under the owner of sponsorCode.
// An empty code registers a root. The sponsor is fixed from here on.
func (g *NetworkGraph) RegisterMember(ctx context.Context, userID uuid.UUID, sponsorCode string) (*model.NetworkMember, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}

	var sponsorID *uuid.UUID
	if code := strings.TrimSpace(sponsorCode); code != "" {
		sponsor, err := g.members.GetByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown referral code %q", model.ErrValidation, code)
			}
			return nil, err
		}
		if sponsor.UserID == userID {
			return nil, fmt.Errorf("%w: member cannot sponsor itself", model.ErrValidation)
		}
		sponsorID = &sponsor.UserID
	}

	var lastErr error
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		member, err := g.members.Create(ctx, &model.NetworkMember{
			UserID:           userID,
			SponsorID:        sponsorID,
			ActivationStatus: model.ActivationInactive,
			ReferralCode:     NewReferralCode(),
		})
		if err == nil {
			log.Info().
				Str("user_id", userID.String()).
				Str("referral_code", member.ReferralCode).
				Msg("Member registered")
			return member, nil
		}
		if !errors.Is(err, model.ErrValidation) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// NewReferralCode returns an 8 character upper-case code.
func NewReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Member returns one node of the tree.
func (g *NetworkGraph) Member(ctx context.Context, userID uuid.UUID) (*model.NetworkMember, error) {
	return g.members.Get(ctx, userID)
}
