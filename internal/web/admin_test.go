package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tkaratal/joinkit/internal/joinkit"
	"github.com/tkaratal/joinkit/pkg/operatorauth"
)

var adminSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newAdminRouter(t *testing.T, store joinkit.CredentialStore, members joinkit.MembershipClient) (*gin.Engine, AdminDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	refresher := joinkit.NewTokenRefresher(store, successfulBroker("unused"), nil, zap.NewNop(), 0)
	joiner := joinkit.NewBulkJoiner(refresher, members, joinkit.NewFixedIntervalPacer(0), zap.NewNop(), nil)
	tracker := joinkit.NewRunTracker(joiner, nil, zap.NewNop())

	portal, portalErr := joinkit.NewPortalStore("")
	if portalErr != nil {
		t.Fatalf("portal store error: %v", portalErr)
	}
	validator, validatorErr := operatorauth.New(operatorauth.Config{SigningKey: adminSigningKey, Issuer: "joinkit"})
	if validatorErr != nil {
		t.Fatalf("validator error: %v", validatorErr)
	}

	deps := AdminDeps{
		Tracker:   tracker,
		Store:     store,
		Portal:    portal,
		Validator: validator,
		Logger:    zap.NewNop(),
	}
	router := gin.New()
	MountAdminRoutes(router, deps)
	return router, deps
}

func mintOperatorToken(t *testing.T) string {
	t.Helper()
	signed, _, mintErr := operatorauth.Mint("operator-1", "joinkit", adminSigningKey, time.Hour, nil)
	if mintErr != nil {
		t.Fatalf("mint error: %v", mintErr)
	}
	return signed
}

func doAdminRequest(router *gin.Engine, token string, method string, path string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func seedCredential(t *testing.T, store joinkit.CredentialStore, userID string) {
	t.Helper()
	record := joinkit.CredentialRecord{
		UserID:             userID,
		AccessToken:        "AT-" + userID,
		RefreshToken:       "RT-" + userID,
		ExpiresAtUnixMilli: time.Now().Add(48 * time.Hour).UnixMilli(),
	}
	if err := store.Put(context.Background(), record); err != nil {
		t.Fatalf("seed error: %v", err)
	}
}

func waitForLatestState(t *testing.T, router *gin.Engine, token string, expected joinkit.RunState) joinkit.RunStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var status joinkit.RunStatus
	for time.Now().Before(deadline) {
		recorder := doAdminRequest(router, token, http.MethodGet, "/admin/runs/latest", "")
		if recorder.Code == http.StatusOK {
			if unmarshalErr := json.Unmarshal(recorder.Body.Bytes(), &status); unmarshalErr != nil {
				t.Fatalf("status decode error: %v", unmarshalErr)
			}
			if status.State == expected {
				return status
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run never reached state %s, last status %+v", expected, status)
	return joinkit.RunStatus{}
}

func TestAdminRequiresOperatorToken(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	router, _ := newAdminRouter(t, store, newFakeMembers())

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/admin/runs"},
		{http.MethodGet, "/admin/runs/latest"},
		{http.MethodDelete, "/admin/runs/latest"},
		{http.MethodDelete, "/admin/credentials"},
		{http.MethodPut, "/admin/portal"},
	}
	for _, endpoint := range paths {
		recorder := doAdminRequest(router, "", endpoint.method, endpoint.path, "")
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 without token, got %d", endpoint.method, endpoint.path, recorder.Code)
		}
	}
}

func TestAdminStartRunWithExplicitUsers(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	members := newFakeMembers()
	router, _ := newAdminRouter(t, store, members)
	token := mintOperatorToken(t)
	seedCredential(t, store, "user-1")
	seedCredential(t, store, "user-2")

	recorder := doAdminRequest(router, token, http.MethodPost, "/admin/runs",
		`{"community_id":"community-1","user_ids":["user-1","user-2"]}`)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var accepted struct {
		RunID string `json:"run_id"`
	}
	if unmarshalErr := json.Unmarshal(recorder.Body.Bytes(), &accepted); unmarshalErr != nil {
		t.Fatalf("decode error: %v", unmarshalErr)
	}
	if accepted.RunID == "" {
		t.Fatal("expected a run id")
	}

	status := waitForLatestState(t, router, token, joinkit.RunStateCompleted)
	if status.Report.SuccessCount != 2 || status.Report.FailCount != 0 {
		t.Fatalf("unexpected report %+v", status.Report)
	}
	if status.CommunityID != "community-1" || status.RequestedUserCount != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAdminStartRunDefaultsToStoredCredentials(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	members := newFakeMembers()
	router, _ := newAdminRouter(t, store, members)
	token := mintOperatorToken(t)
	seedCredential(t, store, "user-1")
	seedCredential(t, store, "user-2")
	seedCredential(t, store, "user-3")

	recorder := doAdminRequest(router, token, http.MethodPost, "/admin/runs",
		`{"community_id":"community-1"}`)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	status := waitForLatestState(t, router, token, joinkit.RunStateCompleted)
	if status.RequestedUserCount != 3 {
		t.Fatalf("expected run over all stored credentials, got %+v", status)
	}
}

func TestAdminStartRunRejectsEmpty(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	router, _ := newAdminRouter(t, store, newFakeMembers())
	token := mintOperatorToken(t)

	recorder := doAdminRequest(router, token, http.MethodPost, "/admin/runs",
		`{"community_id":"community-1"}`)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 with no verified users, got %d", recorder.Code)
	}

	recorder = doAdminRequest(router, token, http.MethodPost, "/admin/runs", `{"user_ids":["user-1"]}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without community id, got %d", recorder.Code)
	}
}

func TestAdminRunsLatestWithoutRuns(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	router, _ := newAdminRouter(t, store, newFakeMembers())
	token := mintOperatorToken(t)

	recorder := doAdminRequest(router, token, http.MethodGet, "/admin/runs/latest", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any runs, got %d", recorder.Code)
	}
}

func TestAdminCancelWithoutActiveRun(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	router, _ := newAdminRouter(t, store, newFakeMembers())
	token := mintOperatorToken(t)

	recorder := doAdminRequest(router, token, http.MethodDelete, "/admin/runs/latest", "")
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 without an active run, got %d", recorder.Code)
	}
}

func TestAdminResetCredentials(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	router, _ := newAdminRouter(t, store, newFakeMembers())
	token := mintOperatorToken(t)
	seedCredential(t, store, "user-1")

	recorder := doAdminRequest(router, token, http.MethodDelete, "/admin/credentials", "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	listed, listErr := store.List(context.Background())
	if listErr != nil {
		t.Fatalf("list error: %v", listErr)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty store, got %d records", len(listed))
	}
}

func TestAdminPortalUpdate(t *testing.T) {
	store := joinkit.NewMemoryCredentialStore()
	router, deps := newAdminRouter(t, store, newFakeMembers())
	token := mintOperatorToken(t)

	recorder := doAdminRequest(router, token, http.MethodPut, "/admin/portal",
		`{"description":"Verify to join.","image_url":"https://cdn.example/banner.png"}`)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if deps.Portal.Get().Description != "Verify to join." {
		t.Fatalf("expected portal updated, got %+v", deps.Portal.Get())
	}

	recorder = doAdminRequest(router, token, http.MethodPut, "/admin/portal", `{"description":"  "}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty description, got %d", recorder.Code)
	}
}
