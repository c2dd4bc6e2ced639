package joinkit

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// MembershipProber answers "is this user already a member" with a local cache
// so a bulk run probes each (community, user) pair at most once. Probe
// failures are treated as "not a member"; the subsequent join call is
// idempotent, so a wrong negative only costs one extra remote round trip.
// Create a fresh prober per bulk run.
type MembershipProber struct {
	members MembershipClient
	logger  *zap.Logger
	cache   map[string]bool
}

// NewMembershipProber constructs a prober with an empty cache.
func NewMembershipProber(members MembershipClient, logger *zap.Logger) *MembershipProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipProber{
		members: members,
		logger:  logger,
		cache:   make(map[string]bool),
	}
}

// IsMember reports whether the user is already a member of the community.
func (prober *MembershipProber) IsMember(ctx context.Context, communityID string, userID string) bool {
	cacheKey := communityID + "/" + userID
	if known, ok := prober.cache[cacheKey]; ok {
		return known
	}

	_, fetchErr := prober.members.FetchMember(ctx, communityID, userID)
	isMember := fetchErr == nil
	if fetchErr != nil && !errors.Is(fetchErr, ErrMemberNotFound) {
		prober.logger.Warn("membership probe failed, assuming not a member",
			zap.String("code", "membership_prober.probe_failed"),
			zap.String("community_id", communityID),
			zap.String("user_id", userID),
			zap.Error(fetchErr))
	}
	prober.cache[cacheKey] = isMember
	return isMember
}
