package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"safevoice/internal/dispatch"
	"safevoice/internal/emergency"
	"safevoice/internal/models"
	"safevoice/internal/propagation"
	"safevoice/internal/telemetry"
	"safevoice/pkg/cache"
	"safevoice/pkg/config"
	"safevoice/pkg/sig"
	"safevoice/pkg/sse"
	"safevoice/pkg/store"
	"safevoice/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine *gin.Engine
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.GlobalConfig = &config.Config{
		AppURL:    "https://safe-voice.app",
		RateLimit: "100000-S",
	}

	hub := sig.NewHub()
	st := store.NewMemoryStore(hub)
	local := cache.NewLocalCache(cache.LocalConfig{
		DefaultExpiration: time.Second,
		CleanupInterval:   time.Minute,
	})
	broker := propagation.New(st, local, hub, time.Hour)
	broker.Start()
	t.Cleanup(broker.Stop)

	dispatcher := dispatch.New(config.GlobalConfig.AppURL, dispatch.Console{})
	tracker := telemetry.NewTracker(st, nil)
	t.Cleanup(tracker.Close)
	mgr := emergency.NewManager(st, dispatcher, tracker, time.Second)

	sseHub := sse.NewHub(time.Second)
	wsHub := websocket.NewHub()
	go wsHub.Run()
	t.Cleanup(wsHub.Stop)

	engine := gin.New()
	NewHandlers(st, mgr, tracker, dispatcher, broker, sseHub, wsHub).Register(engine)
	return &testEnv{engine: engine, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func seedUser(t *testing.T, st *store.MemoryStore, id string, contacts int) {
	t.Helper()
	require.NoError(t, st.CreateUser(nil, &models.UserProfile{ID: id, Name: "Dana", Phone: "+1000"}))
	for i := 0; i < contacts; i++ {
		require.NoError(t, st.AddContact(nil, &models.Contact{
			ID: fmt.Sprintf("%s_ct%d", id, i), UserID: id,
			Name: fmt.Sprintf("Contact %d", i), Phone: fmt.Sprintf("+1%03d", i),
		}))
	}
}

func TestTriggerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "u_1", 2)

	w := env.do(t, http.MethodPost, "/api/emergency/trigger", gin.H{"userId": "u_1"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	data := body["data"].(map[string]any)
	require.Equal(t, true, data["created"])
	rec := data["emergency"].(map[string]any)
	id := rec["ID"].(string)
	require.Equal(t, "ACTIVE", rec["Status"])
	require.Contains(t, data["trackingUrl"], id)

	// repeat trigger returns the same record without a second broadcast
	w = env.do(t, http.MethodPost, "/api/emergency/trigger", gin.H{"userId": "u_1"})
	require.Equal(t, http.StatusOK, w.Code)
	data = decode(t, w)["data"].(map[string]any)
	require.Equal(t, false, data["created"])
	require.Equal(t, id, data["emergency"].(map[string]any)["ID"])

	// sample ingest, then tracking snapshot carries it
	w = env.do(t, http.MethodPost, "/api/emergency/"+id+"/location", gin.H{
		"latitude": 51.5, "longitude": -0.12, "timestamp": time.Now().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/track/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode(t, w)["data"].(map[string]any)
	require.Equal(t, "ACTIVE", snap["status"])
	require.NotNil(t, snap["lastLocation"])

	// resolve is terminal
	w = env.do(t, http.MethodPost, "/api/emergency/"+id+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/emergency/"+id+"/resolve", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// no samples after resolve, but the link stays readable
	w = env.do(t, http.MethodPost, "/api/emergency/"+id+"/location", gin.H{
		"latitude": 51.6, "longitude": -0.13, "timestamp": time.Now().Add(time.Minute).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/track/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap = decode(t, w)["data"].(map[string]any)
	require.Equal(t, "SAFE", snap["status"])
	require.NotNil(t, snap["resolvedAt"])
}

func TestTriggerUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/emergency/trigger", gin.H{"userId": "nobody"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "u_1", 1)

	w := env.do(t, http.MethodPost, "/api/emergency/trigger",
		gin.H{"userId": "u_1"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/emergency/trigger",
		gin.H{"userId": "u_1"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStaleLocationRejected(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "u_1", 1)
	w := env.do(t, http.MethodPost, "/api/emergency/trigger", gin.H{"userId": "u_1"})
	id := decode(t, w)["data"].(map[string]any)["emergency"].(map[string]any)["ID"].(string)

	now := time.Now()
	w = env.do(t, http.MethodPost, "/api/emergency/"+id+"/location", gin.H{
		"latitude": 1.0, "longitude": 2.0, "timestamp": now.Format(time.RFC3339Nano),
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/emergency/"+id+"/location", gin.H{
		"latitude": 1.1, "longitude": 2.1, "timestamp": now.Add(-time.Minute).Format(time.RFC3339Nano),
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDispatchAlertsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing contacts is a validation error", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/alerts", gin.H{"emergencyId": "e_x"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, dispatch.FailureNoContacts, decode(t, w)["message"])
	})

	t.Run("one result per contact, simulated without credentials", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/alerts", gin.H{
			"userName":    "Dana",
			"emergencyId": "e_x",
			"contacts": []gin.H{
				{"name": "A", "phone": "+1"},
				{"name": "B", "phone": "+2"},
				{"name": "C", "phone": "+3"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)
		report := decode(t, w)["data"].(map[string]any)
		require.Equal(t, true, report["simulated"])
		require.Len(t, report["results"], 3)
	})
}

func TestFleetView(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "u_1", 1)
	seedUser(t, env.store, "u_2", 1)

	for _, uid := range []string{"u_1", "u_2"} {
		w := env.do(t, http.MethodPost, "/api/emergency/trigger", gin.H{"userId": uid})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/emergency/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["data"].([]any)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, "Dana", e.(map[string]any)["ownerName"])
	}
}

func TestActiveForUser(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "u_1", 1)

	w := env.do(t, http.MethodGet, "/api/emergency/user/u_1/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, decode(t, w)["data"])

	env.do(t, http.MethodPost, "/api/emergency/trigger", gin.H{"userId": "u_1"})
	w = env.do(t, http.MethodGet, "/api/emergency/user/u_1/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, decode(t, w)["data"])
}

func TestUserAndContactRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/users", gin.H{
		"name": "Maya", "phone": "+44123", "emergencyKeyword": "pineapple",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	user := decode(t, w)["data"].(map[string]any)
	uid := user["ID"].(string)

	w = env.do(t, http.MethodPost, "/api/users/"+uid+"/contacts", gin.H{
		"name": "Ravi", "phone": "+44999",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPut, "/api/users/"+uid, gin.H{"emergencyKeyword": "mango"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "mango", decode(t, w)["data"].(map[string]any)["EmergencyKeyword"])

	w = env.do(t, http.MethodPost, "/api/users/missing/contacts", gin.H{"name": "X", "phone": "+1"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestLocationHistory(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "u_1", 1)
	w := env.do(t, http.MethodPost, "/api/emergency/trigger", gin.H{"userId": "u_1"})
	id := decode(t, w)["data"].(map[string]any)["emergency"].(map[string]any)["ID"].(string)

	base := time.Now()
	for i := 0; i < 3; i++ {
		w = env.do(t, http.MethodPost, "/api/emergency/"+id+"/location", gin.H{
			"latitude": float64(i), "longitude": float64(i),
			"timestamp": base.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/emergency/"+id+"/locations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode(t, w)["data"], 3)

	w = env.do(t, http.MethodGet, "/api/emergency/e_missing/locations", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decode(t, w)["message"])
}
