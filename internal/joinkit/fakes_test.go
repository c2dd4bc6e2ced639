package joinkit

import (
	"context"
	"sync"
	"time"
)

type fixedClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newFixedClock(current time.Time) *fixedClock {
	return &fixedClock{current: current}
}

func (clock *fixedClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *fixedClock) Advance(delta time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(delta)
}

type fakeBroker struct {
	exchangeFunc func(ctx context.Context, code string) (TokenGrant, error)
	refreshFunc  func(ctx context.Context, refreshToken string) (TokenGrant, error)
	identityFunc func(ctx context.Context, accessToken string) (string, error)

	exchangeCalls int
	refreshCalls  int
	identityCalls int
}

func (broker *fakeBroker) ExchangeCode(ctx context.Context, code string) (TokenGrant, error) {
	broker.exchangeCalls++
	return broker.exchangeFunc(ctx, code)
}

func (broker *fakeBroker) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	broker.refreshCalls++
	return broker.refreshFunc(ctx, refreshToken)
}

func (broker *fakeBroker) FetchIdentity(ctx context.Context, accessToken string) (string, error) {
	broker.identityCalls++
	return broker.identityFunc(ctx, accessToken)
}

// fakeMembershipClient simulates the membership API with an in-memory member
// set and optional per-user join failures.
type fakeMembershipClient struct {
	mutex      sync.Mutex
	members    map[string]bool
	joinErrs   map[string]error
	fetchErrs  map[string]error
	joined     []string
	fetchCalls int
}

func newFakeMembershipClient() *fakeMembershipClient {
	return &fakeMembershipClient{
		members:   make(map[string]bool),
		joinErrs:  make(map[string]error),
		fetchErrs: make(map[string]error),
	}
}

func (client *fakeMembershipClient) key(communityID string, userID string) string {
	return communityID + "/" + userID
}

func (client *fakeMembershipClient) AddMember(ctx context.Context, communityID string, userID string, accessToken string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if joinErr, ok := client.joinErrs[userID]; ok {
		return joinErr
	}
	client.members[client.key(communityID, userID)] = true
	client.joined = append(client.joined, userID)
	return nil
}

func (client *fakeMembershipClient) FetchMember(ctx context.Context, communityID string, userID string) (Member, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.fetchCalls++
	if fetchErr, ok := client.fetchErrs[userID]; ok {
		return Member{}, fetchErr
	}
	if client.members[client.key(communityID, userID)] {
		return Member{UserID: userID}, nil
	}
	return Member{}, ErrMemberNotFound
}

func (client *fakeMembershipClient) AddRole(ctx context.Context, communityID string, userID string, roleID string) error {
	return nil
}

func (client *fakeMembershipClient) RemoveRole(ctx context.Context, communityID string, userID string, roleID string) error {
	return nil
}

// countingPacer records every pacing charge without sleeping.
type countingPacer struct {
	mutex sync.Mutex
	calls int
}

func (pacer *countingPacer) Pace(ctx context.Context) error {
	pacer.mutex.Lock()
	defer pacer.mutex.Unlock()
	pacer.calls++
	return ctx.Err()
}

func (pacer *countingPacer) Calls() int {
	pacer.mutex.Lock()
	defer pacer.mutex.Unlock()
	return pacer.calls
}
