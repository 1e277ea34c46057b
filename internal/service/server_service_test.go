package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kaspernux/1000proxy-sub002/internal/database"
	"github.com/kaspernux/1000proxy-sub002/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "service-test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func validTestServer() *model.Server {
	return &model.Server{
		Name:     "edge-1",
		PanelURL: "https://panel.example.com:2053",
		Username: "admin",
		Password: "secret",
		Enable:   true,
	}
}

func TestAddServerValidation(t *testing.T) {
	svc := NewServerService(newTestDB(t))
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*model.Server)
	}{
		{"missing name", func(s *model.Server) { s.Name = "" }},
		{"missing url", func(s *model.Server) { s.PanelURL = "" }},
		{"relative url", func(s *model.Server) { s.PanelURL = "panel.example.com" }},
		{"missing credentials", func(s *model.Server) { s.Password = "" }},
	}
	for _, tc := range cases {
		srv := validTestServer()
		tc.mutate(srv)
		if err := svc.AddServer(ctx, srv); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestAddServerAppliesDefaults(t *testing.T) {
	svc := NewServerService(newTestDB(t))
	ctx := context.Background()

	srv := validTestServer()
	if err := svc.AddServer(ctx, srv); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}
	if srv.ID == 0 {
		t.Fatalf("expected assigned ID")
	}
	if srv.Status != model.ServerStatusDown {
		t.Fatalf("expected default status down, got %s", srv.Status)
	}
	if srv.RequestTimeout != 30 || srv.MaxRetries != 3 {
		t.Fatalf("defaults not applied: timeout=%d retries=%d", srv.RequestTimeout, srv.MaxRetries)
	}
}

func TestUpdateServerRequiresID(t *testing.T) {
	svc := NewServerService(newTestDB(t))
	srv := validTestServer()
	if err := svc.UpdateServer(context.Background(), srv); err == nil {
		t.Fatalf("expected error for missing ID")
	}
}

func TestDeleteServerKeepsClients(t *testing.T) {
	db := newTestDB(t)
	svc := NewServerService(db)
	ctx := context.Background()

	srv := validTestServer()
	if err := svc.AddServer(ctx, srv); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}

	remoteID := 7
	inbound := &model.ServerInbound{ServerID: srv.ID, RemoteID: &remoteID, Protocol: "vless", Port: 443}
	if err := db.Create(inbound).Error; err != nil {
		t.Fatalf("seed inbound: %v", err)
	}
	client := &model.ServerClient{ServerInboundID: &inbound.ID, Email: "a@x.com", Status: model.ClientStatusActive}
	if err := db.Create(client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}

	if err := svc.DeleteServer(ctx, srv.ID); err != nil {
		t.Fatalf("DeleteServer failed: %v", err)
	}

	if _, err := svc.GetServer(ctx, srv.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected server gone, got %v", err)
	}
	var inbounds int64
	db.Model(&model.ServerInbound{}).Where("server_id = ?", srv.ID).Count(&inbounds)
	if inbounds != 0 {
		t.Fatalf("expected inbounds deleted with server, found %d", inbounds)
	}
	var clients int64
	db.Model(&model.ServerClient{}).Count(&clients)
	if clients != 1 {
		t.Fatalf("client rows must survive server deletion, found %d", clients)
	}
}

func TestDeleteServerReportsCascadeFailure(t *testing.T) {
	db := newTestDB(t)
	svc := NewServerService(db)
	ctx := context.Background()

	srv := validTestServer()
	if err := svc.AddServer(ctx, srv); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}

	if err := db.Migrator().DropTable(&model.ServerInbound{}); err != nil {
		t.Fatalf("drop inbounds table: %v", err)
	}

	if err := svc.DeleteServer(ctx, srv.ID); err == nil {
		t.Fatalf("expected error when the inbound cascade fails")
	}
	// The server row must survive a failed cascade.
	if _, err := svc.GetServer(ctx, srv.ID); err != nil {
		t.Fatalf("server must remain after failed delete: %v", err)
	}
}

func TestGetEnabledServers(t *testing.T) {
	db := newTestDB(t)
	svc := NewServerService(db)
	ctx := context.Background()

	enabled := validTestServer()
	if err := svc.AddServer(ctx, enabled); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}
	disabled := validTestServer()
	disabled.Name = "edge-2"
	if err := svc.AddServer(ctx, disabled); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}
	if err := db.Model(disabled).Update("enable", false).Error; err != nil {
		t.Fatalf("disable server: %v", err)
	}

	servers, err := svc.GetEnabledServers(ctx)
	if err != nil {
		t.Fatalf("GetEnabledServers failed: %v", err)
	}
	if len(servers) != 1 || servers[0].ID != enabled.ID {
		t.Fatalf("expected only the enabled server, got %d rows", len(servers))
	}
}

func TestUpdateServerStatus(t *testing.T) {
	db := newTestDB(t)
	svc := NewServerService(db)
	ctx := context.Background()

	srv := validTestServer()
	if err := svc.AddServer(ctx, srv); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}
	if err := svc.UpdateServerStatus(ctx, srv.ID, model.ServerStatusUp); err != nil {
		t.Fatalf("UpdateServerStatus failed: %v", err)
	}
	fresh, err := svc.GetServer(ctx, srv.ID)
	if err != nil {
		t.Fatalf("GetServer failed: %v", err)
	}
	if fresh.Status != model.ServerStatusUp {
		t.Fatalf("expected status up, got %s", fresh.Status)
	}
}
