package web

import (
	"context"
	"sync"
	"time"

	"github.com/tkaratal/joinkit/internal/joinkit"
)

type fakeBroker struct {
	exchangeFunc func(ctx context.Context, code string) (joinkit.TokenGrant, error)
	identityFunc func(ctx context.Context, accessToken string) (string, error)
	refreshFunc  func(ctx context.Context, refreshToken string) (joinkit.TokenGrant, error)
}

func (broker *fakeBroker) ExchangeCode(ctx context.Context, code string) (joinkit.TokenGrant, error) {
	return broker.exchangeFunc(ctx, code)
}

func (broker *fakeBroker) Refresh(ctx context.Context, refreshToken string) (joinkit.TokenGrant, error) {
	if broker.refreshFunc == nil {
		return joinkit.TokenGrant{}, nil
	}
	return broker.refreshFunc(ctx, refreshToken)
}

func (broker *fakeBroker) FetchIdentity(ctx context.Context, accessToken string) (string, error) {
	return broker.identityFunc(ctx, accessToken)
}

func successfulBroker(userID string) *fakeBroker {
	return &fakeBroker{
		exchangeFunc: func(ctx context.Context, code string) (joinkit.TokenGrant, error) {
			return joinkit.TokenGrant{
				AccessToken:  "AT-" + code,
				RefreshToken: "RT-" + code,
				ExpiresAt:    time.Now().Add(7 * 24 * time.Hour),
			}, nil
		},
		identityFunc: func(ctx context.Context, accessToken string) (string, error) {
			return userID, nil
		},
	}
}

type fakeMembers struct {
	mutex      sync.Mutex
	members    map[string]bool
	joinErrs   map[string]error
	joined     []string
	rolesAdded []string
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{
		members:  make(map[string]bool),
		joinErrs: make(map[string]error),
	}
}

func (client *fakeMembers) AddMember(ctx context.Context, communityID string, userID string, accessToken string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if joinErr, ok := client.joinErrs[userID]; ok {
		return joinErr
	}
	client.members[communityID+"/"+userID] = true
	client.joined = append(client.joined, userID)
	return nil
}

func (client *fakeMembers) FetchMember(ctx context.Context, communityID string, userID string) (joinkit.Member, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if client.members[communityID+"/"+userID] {
		return joinkit.Member{UserID: userID}, nil
	}
	return joinkit.Member{}, joinkit.ErrMemberNotFound
}

func (client *fakeMembers) AddRole(ctx context.Context, communityID string, userID string, roleID string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.rolesAdded = append(client.rolesAdded, userID+"/"+roleID)
	return nil
}

func (client *fakeMembers) RemoveRole(ctx context.Context, communityID string, userID string, roleID string) error {
	return nil
}

type staticAuthorizeURL string

func (builder staticAuthorizeURL) AuthCodeURL(state string) string {
	return string(builder)
}
