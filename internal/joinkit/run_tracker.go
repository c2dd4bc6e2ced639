package joinkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RunState is the lifecycle state of a tracked bulk run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
	RunStateFailed    RunState = "failed"
)

// RunStatus is the externally observable state of the latest bulk run.
type RunStatus struct {
	RunID               string     `json:"run_id"`
	CommunityID         string     `json:"community_id"`
	State               RunState   `json:"state"`
	Report              JoinReport `json:"report"`
	StartedAtUnixMilli  int64      `json:"started_at_unix_milli"`
	FinishedAtUnixMilli int64      `json:"finished_at_unix_milli,omitempty"`
	Detail              string     `json:"detail,omitempty"`
	RequestedUserCount  int        `json:"requested_user_count"`
}

// RunTracker schedules bulk runs on their own goroutine so the serving
// process stays responsive, serializes them, and keeps the latest status
// plus a cancellation handle checked between users.
type RunTracker struct {
	mutex    sync.Mutex
	joiner   *BulkJoiner
	clock    Clock
	logger   *zap.Logger
	sequence uint64
	latest   *RunStatus
	cancel   context.CancelFunc
}

// NewRunTracker wires the tracker around one orchestrator.
func NewRunTracker(joiner *BulkJoiner, clock Clock, logger *zap.Logger) *RunTracker {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunTracker{
		joiner: joiner,
		clock:  clock,
		logger: logger,
	}
}

// Start launches a bulk run in the background. ErrRunInProgress is returned
// while an earlier run is still executing.
func (tracker *RunTracker) Start(communityID string, userIDs []string) (string, error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	if tracker.latest != nil && tracker.latest.State == RunStateRunning {
		return "", ErrRunInProgress
	}

	tracker.sequence++
	runID := fmt.Sprintf("run-%d", tracker.sequence)
	runCtx, cancel := context.WithCancel(context.Background())
	status := &RunStatus{
		RunID:              runID,
		CommunityID:        communityID,
		State:              RunStateRunning,
		Report:             JoinReport{FailBreakdown: make(map[string]int)},
		StartedAtUnixMilli: tracker.clock.Now().UnixMilli(),
		RequestedUserCount: len(userIDs),
	}
	tracker.latest = status
	tracker.cancel = cancel

	go tracker.execute(runCtx, cancel, status, communityID, userIDs)
	return runID, nil
}

func (tracker *RunTracker) execute(runCtx context.Context, cancel context.CancelFunc, status *RunStatus, communityID string, userIDs []string) {
	defer cancel()
	report, runErr := tracker.joiner.Run(runCtx, communityID, userIDs)

	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	status.Report = report
	status.FinishedAtUnixMilli = tracker.clock.Now().UnixMilli()
	switch {
	case runErr == nil:
		status.State = RunStateCompleted
	case errors.Is(runErr, context.Canceled):
		status.State = RunStateCancelled
	default:
		status.State = RunStateFailed
		status.Detail = runErr.Error()
		tracker.logger.Error("bulk run failed",
			zap.String("code", "run_tracker.run_failed"),
			zap.String("run_id", status.RunID),
			zap.Error(runErr))
	}
}

// Latest returns a copy of the most recent run status.
func (tracker *RunTracker) Latest() (RunStatus, bool) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	if tracker.latest == nil {
		return RunStatus{}, false
	}
	return *tracker.latest, true
}

// Cancel requests cancellation of the running bulk run. It reports whether a
// run was actually running.
func (tracker *RunTracker) Cancel() bool {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	if tracker.latest == nil || tracker.latest.State != RunStateRunning || tracker.cancel == nil {
		return false
	}
	tracker.cancel()
	return true
}
