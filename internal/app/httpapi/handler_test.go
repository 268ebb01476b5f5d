package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/lifequest-app/progress-engine/internal/app"
	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/storage/memory"
)

func newTestHandler(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	application, err := app.New(app.Stores{
		Ledger: store, Habits: store, Achievements: store,
		Quests: store, Levels: store, Catalog: store,
	}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })

	handler, err := NewHandler(application, Options{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, store
}

func marshal(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(data)
}

func do(t *testing.T, handler http.Handler, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHandlerLifecycle(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	resp := do(t, handler, http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: %d", resp.Code)
	}

	// A habit completion earns base points.
	actionBody := map[string]any{
		"user_id":      "user-1",
		"source":       "habit",
		"reference_id": "habit-1",
		"occurred_at":  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	resp = do(t, handler, http.MethodPost, "/actions", marshal(t, actionBody))
	if resp.Code != http.StatusOK {
		t.Fatalf("record action: %d %s", resp.Code, resp.Body.String())
	}
	var action map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &action); err != nil {
		t.Fatalf("unmarshal action: %v", err)
	}
	if action["points_awarded"].(float64) != 5 {
		t.Fatalf("points_awarded = %v", action["points_awarded"])
	}

	resp = do(t, handler, http.MethodGet, "/users/user-1/points", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("points: %d", resp.Code)
	}
	var points map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &points); err != nil {
		t.Fatalf("unmarshal points: %v", err)
	}
	if points["total"].(float64) != 5 {
		t.Fatalf("total = %v", points["total"])
	}

	resp = do(t, handler, http.MethodGet, "/users/user-1/level", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("level: %d", resp.Code)
	}

	// Quest accept and completion through the action endpoint.
	if err := store.PutTemplate(ctx, quest.Template{
		ID: "daily-run", Type: quest.TypeDaily, Title: "Daily Run",
		Rewards: quest.Rewards{Points: 20},
	}); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	resp = do(t, handler, http.MethodPost, "/users/user-1/quests", marshal(t, map[string]any{"quest_id": "daily-run"}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("accept quest: %d %s", resp.Code, resp.Body.String())
	}
	var inst quest.Instance
	if err := json.Unmarshal(resp.Body.Bytes(), &inst); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}

	resp = do(t, handler, http.MethodPost, "/actions", marshal(t, map[string]any{
		"user_id":      "user-1",
		"source":       "quest",
		"reference_id": inst.ID,
		"progress":     100,
	}))
	if resp.Code != http.StatusOK {
		t.Fatalf("quest progress: %d %s", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodGet, "/quests/instances/"+inst.ID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get instance: %d", resp.Code)
	}
	var got quest.Instance
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal instance: %v", err)
	}
	if got.State != quest.StateCompleted {
		t.Fatalf("instance state = %s", got.State)
	}

	// Redemption against the earned balance.
	if err := store.PutCatalogItem(ctx, reward.CatalogItem{
		ID: "sticker", Title: "Sticker", PointsCost: 10,
		Availability: reward.AvailabilityUnlimited,
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	resp = do(t, handler, http.MethodGet, "/rewards", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("rewards: %d", resp.Code)
	}
	resp = do(t, handler, http.MethodPost, "/users/user-1/redemptions", marshal(t, map[string]any{
		"item_id": "sticker", "idempotency_key": "k1",
	}))
	if resp.Code != http.StatusOK {
		t.Fatalf("redeem: %d %s", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, "/users/user-1/recompute?repair=true", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("recompute: %d %s", resp.Code, resp.Body.String())
	}

	// Mutating requests above landed in the audit log.
	resp = do(t, handler, http.MethodGet, "/audit", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit: %d", resp.Code)
	}
	var entries []auditEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("audit log empty after mutations")
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	// Unknown source is the caller's fault.
	resp := do(t, handler, http.MethodPost, "/actions", marshal(t, map[string]any{
		"user_id": "user-1", "source": "telepathy",
	}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown source: %d", resp.Code)
	}

	// Unknown json fields are rejected.
	resp = do(t, handler, http.MethodPost, "/actions", bytes.NewBufferString(`{"user_id":"u","surprise":true}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", resp.Code)
	}

	// A second accept of the same quest conflicts.
	if err := store.PutTemplate(ctx, quest.Template{ID: "q1", Type: quest.TypeDaily, Title: "Q"}); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	body := map[string]any{"quest_id": "q1"}
	if resp = do(t, handler, http.MethodPost, "/users/user-1/quests", marshal(t, body)); resp.Code != http.StatusCreated {
		t.Fatalf("accept: %d", resp.Code)
	}
	if resp = do(t, handler, http.MethodPost, "/users/user-1/quests", marshal(t, body)); resp.Code != http.StatusConflict {
		t.Fatalf("second accept: %d, want 409", resp.Code)
	}

	// Redeeming with no balance is a payment problem, not a server error.
	if err := store.PutCatalogItem(ctx, reward.CatalogItem{
		ID: "mug", Title: "Mug", PointsCost: 100, Availability: reward.AvailabilityUnlimited,
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	resp = do(t, handler, http.MethodPost, "/users/user-2/redemptions", marshal(t, map[string]any{
		"item_id": "mug", "idempotency_key": "k1",
	}))
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("broke redeem: %d, want 402", resp.Code)
	}

	// Missing things are 404s.
	if resp = do(t, handler, http.MethodGet, "/quests/instances/nope", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("missing instance: %d", resp.Code)
	}
	if resp = do(t, handler, http.MethodGet, "/users/user-1/achievements/nope", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("missing achievement: %d", resp.Code)
	}
}
