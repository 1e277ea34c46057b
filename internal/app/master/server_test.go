package master

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kaspernux/1000proxy-sub002/internal/config"
	"github.com/kaspernux/1000proxy-sub002/internal/database"
	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/panel"
	"github.com/kaspernux/1000proxy-sub002/internal/service"
	"github.com/kaspernux/1000proxy-sub002/internal/session"
	"github.com/kaspernux/1000proxy-sub002/internal/syncer"
	"github.com/kaspernux/1000proxy-sub002/logger"
)

const testAPIKey = "test-api-key"

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "master-test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	cfg := &config.MasterConfig{APIKey: testAPIKey}
	store := session.NewStore(db, 5, 30*time.Minute)
	exec := panel.NewExecutor(store, time.Hour, time.Millisecond)
	orc := syncer.NewOrchestrator(db, exec, store, 2)

	srv := NewServer(cfg,
		service.NewServerService(db),
		service.NewProvisionService(db, orc),
		service.NewDashboardService(db),
		service.NewStatusService(),
		orc,
	)
	return srv, db
}

func doRequest(t *testing.T, s *Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decodeResponse(t, w)
	if out["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", out)
	}
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/servers", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/api/servers", "wrong-key", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/api/servers", testAPIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}
}

func TestCreateAndListServers(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/servers", testAPIKey, ServerPayload{
		Name:     "edge-1",
		PanelURL: "https://panel.example.com:2053",
		Username: "admin",
		Password: "secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create failed with %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s, http.MethodGet, "/api/servers", testAPIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list failed with %d", w.Code)
	}
	out := decodeResponse(t, w)
	data, ok := out["data"].([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("expected one server in list, got %v", out["data"])
	}
	first := data[0].(map[string]any)
	if first["name"] != "edge-1" {
		t.Fatalf("unexpected server entry: %v", first)
	}
	if _, exposed := first["password"]; exposed {
		t.Fatalf("credentials must not appear in list responses")
	}
}

func TestCreateServerRejectsInvalidPayload(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/servers", testAPIKey, ServerPayload{
		Name:     "edge-1",
		PanelURL: "not-a-url",
		Username: "admin",
		Password: "secret",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid url, got %d", w.Code)
	}
}

func TestUpdateServerPartialPayload(t *testing.T) {
	s, db := newTestServer(t)

	srv := &model.Server{
		Name:     "edge-1",
		PanelURL: "https://panel.example.com:2053",
		Username: "admin",
		Password: "secret",
		Enable:   true,
	}
	if err := db.Create(srv).Error; err != nil {
		t.Fatalf("seed server: %v", err)
	}

	enable := false
	w := doRequest(t, s, http.MethodPut, "/api/servers/1", testAPIKey, ServerPayload{
		Name:   "edge-renamed",
		Enable: &enable,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update failed with %d: %s", w.Code, w.Body.String())
	}

	var fresh model.Server
	if err := db.First(&fresh, srv.ID).Error; err != nil {
		t.Fatalf("reload server: %v", err)
	}
	if fresh.Name != "edge-renamed" {
		t.Fatalf("name not updated: %q", fresh.Name)
	}
	if fresh.Enable {
		t.Fatalf("expected server disabled")
	}
	if fresh.PanelURL != srv.PanelURL || fresh.Username != "admin" {
		t.Fatalf("untouched fields must survive partial update: %+v", fresh)
	}
}

func TestServerNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPut, "/api/servers/42", testAPIKey, ServerPayload{Name: "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown server, got %d", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/api/servers/not-a-number/sync", testAPIKey, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", w.Code)
	}
}

func TestRecentLogs(t *testing.T) {
	s, _ := newTestServer(t)

	logger.Infof("probe entry %d", time.Now().UnixNano())

	w := doRequest(t, s, http.MethodGet, "/api/logs?count=10", testAPIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logs failed with %d", w.Code)
	}
	out := decodeResponse(t, w)
	data, ok := out["data"].([]any)
	if !ok || len(data) == 0 {
		t.Fatalf("expected buffered log entries, got %v", out["data"])
	}

	w = doRequest(t, s, http.MethodGet, "/api/logs?count=abc", testAPIKey, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid count, got %d", w.Code)
	}
}

func TestDashboard(t *testing.T) {
	s, db := newTestServer(t)

	srv := &model.Server{
		Name:     "edge-1",
		PanelURL: "https://panel.example.com:2053",
		Username: "admin",
		Password: "secret",
		Enable:   true,
		Status:   model.ServerStatusUp,
	}
	if err := db.Create(srv).Error; err != nil {
		t.Fatalf("seed server: %v", err)
	}

	w := doRequest(t, s, http.MethodGet, "/api/dashboard", testAPIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard failed with %d", w.Code)
	}
	out := decodeResponse(t, w)
	data, ok := out["data"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected dashboard payload: %v", out)
	}
	if data["totalServers"] != float64(1) {
		t.Fatalf("expected one server counted, got %v", data["totalServers"])
	}
}
