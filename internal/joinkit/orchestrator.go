package joinkit

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// JoinOutcome classifies one user's result within a bulk run. Outcomes are
// transient; only the aggregate report leaves the orchestrator.
type JoinOutcome string

const (
	OutcomeAlreadyMember    JoinOutcome = "already_member"
	OutcomeJoined           JoinOutcome = "joined"
	OutcomeNoCredential     JoinOutcome = "no_credential"
	OutcomePermissionDenied JoinOutcome = "permission_denied"
	OutcomeFailed           JoinOutcome = "failed"
)

// Failure breakdown labels in the operator-facing report.
const (
	FailureLabelInvalidToken       = "invalid token"
	FailureLabelMissingPermissions = "missing permissions"
	FailureLabelOther              = "other"
)

// ErrRunInProgress is returned when a bulk run is started while another one
// holds the orchestrator. Runs are serialized globally: rate limits are
// per-credential, so a second concurrent run would add risk, not throughput.
var ErrRunInProgress = errors.New("bulk_joiner.run_in_progress")

// JoinReport aggregates a bulk run. The breakdown never lists per-user
// errors; a run over thousands of users must not produce unbounded output.
type JoinReport struct {
	SuccessCount  int            `json:"success_count"`
	FailCount     int            `json:"fail_count"`
	FailBreakdown map[string]int `json:"fail_breakdown"`
}

// BulkJoiner drives one community join across a caller-ordered user list,
// strictly sequentially, pacing every remote write and classifying outcomes.
type BulkJoiner struct {
	refresher *TokenRefresher
	members   MembershipClient
	pacer     Pacer
	logger    *zap.Logger
	metrics   MetricsRecorder
	running   atomic.Bool
}

// NewBulkJoiner wires the orchestrator.
func NewBulkJoiner(refresher *TokenRefresher, members MembershipClient, pacer Pacer, logger *zap.Logger, metrics MetricsRecorder) *BulkJoiner {
	if pacer == nil {
		pacer = NewFixedIntervalPacer(DefaultPacingInterval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	return &BulkJoiner{
		refresher: refresher,
		members:   members,
		pacer:     pacer,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run processes userIDs in order against one target community. A single
// user's failure never aborts the run; cancellation is honored between users
// and returns the partial report alongside the context error. Whatever
// happens, SuccessCount+FailCount equals the number of processed users.
func (joiner *BulkJoiner) Run(ctx context.Context, communityID string, userIDs []string) (JoinReport, error) {
	report := JoinReport{FailBreakdown: make(map[string]int)}
	if !joiner.running.CompareAndSwap(false, true) {
		return report, ErrRunInProgress
	}
	defer joiner.running.Store(false)

	joiner.logger.Info("bulk join started",
		zap.String("community_id", communityID),
		zap.Int("user_count", len(userIDs)))

	prober := NewMembershipProber(joiner.members, joiner.logger)
	for _, userID := range userIDs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			joiner.logger.Info("bulk join cancelled",
				zap.String("community_id", communityID),
				zap.Int("processed", report.SuccessCount+report.FailCount))
			return report, ctxErr
		}

		outcome := joiner.joinOne(ctx, prober, communityID, userID, &report)
		joiner.metrics.Increment("bulk_join." + string(outcome))

		// An already-member hit needed no write call, so it is not charged
		// a pacing delay; everything past the probe is.
		if outcome == OutcomeAlreadyMember {
			continue
		}
		if paceErr := joiner.pacer.Pace(ctx); paceErr != nil {
			return report, paceErr
		}
	}

	joiner.logger.Info("bulk join finished",
		zap.String("community_id", communityID),
		zap.Int("success", report.SuccessCount),
		zap.Int("fail", report.FailCount))
	return report, nil
}

func (joiner *BulkJoiner) joinOne(ctx context.Context, prober *MembershipProber, communityID string, userID string, report *JoinReport) JoinOutcome {
	if prober.IsMember(ctx, communityID, userID) {
		report.SuccessCount++
		return OutcomeAlreadyMember
	}

	accessToken, tokenErr := joiner.refresher.EnsureValid(ctx, userID)
	if tokenErr != nil {
		report.FailCount++
		report.FailBreakdown[FailureLabelInvalidToken]++
		joiner.logger.Warn("no usable credential",
			zap.String("code", "bulk_joiner.no_credential"),
			zap.String("user_id", userID),
			zap.Error(tokenErr))
		return OutcomeNoCredential
	}

	joinErr := joiner.members.AddMember(ctx, communityID, userID, accessToken)
	if joinErr == nil {
		report.SuccessCount++
		return OutcomeJoined
	}

	report.FailCount++
	if IsPermissionDenied(joinErr) {
		report.FailBreakdown[FailureLabelMissingPermissions]++
		joiner.logger.Warn("join denied by permissions",
			zap.String("code", "bulk_joiner.permission_denied"),
			zap.String("community_id", communityID),
			zap.String("user_id", userID),
			zap.Error(joinErr))
		return OutcomePermissionDenied
	}
	report.FailBreakdown[FailureLabelOther]++
	joiner.logger.Warn("join failed",
		zap.String("code", "bulk_joiner.join_failed"),
		zap.String("community_id", communityID),
		zap.String("user_id", userID),
		zap.Error(joinErr))
	return OutcomeFailed
}
