package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kaspernux/1000proxy-sub002/internal/database"
	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/panel"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "syncer-test.db")
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

func seedServer(t *testing.T, db *gorm.DB) *model.Server {
	t.Helper()
	srv := &model.Server{
		Name:     "test",
		PanelURL: "http://127.0.0.1:9999",
		Username: "admin",
		Password: "secret",
		Enable:   true,
	}
	if err := db.Create(srv).Error; err != nil {
		t.Fatalf("seed server: %v", err)
	}
	return srv
}

func TestReconcileInboundCreatesThenUpdates(t *testing.T) {
	db := newTestDB(t)
	srv := seedServer(t, db)
	rec := NewReconciler(db)
	ctx := context.Background()

	remote := &panel.Inbound{
		ID:       12,
		Remark:   "edge",
		Enable:   true,
		Port:     443,
		Protocol: "vless",
		Settings: `{"clients":[]}`,
		Up:       100,
		Down:     200,
	}

	row, err := rec.ReconcileInbound(ctx, srv, remote)
	if err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	if row.ID == 0 || row.RemoteID == nil || *row.RemoteID != 12 {
		t.Fatalf("expected created row keyed to remote 12, got %+v", row)
	}
	if row.Port != 443 || row.Up != 100 {
		t.Fatalf("remote fields not applied: %+v", row)
	}

	// Same remote inbound with changed fields must update in place.
	remote.Port = 8443
	remote.Down = 999
	row2, err := rec.ReconcileInbound(ctx, srv, remote)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if row2.ID != row.ID {
		t.Fatalf("expected update of existing row %d, got new row %d", row.ID, row2.ID)
	}
	if row2.Port != 8443 || row2.Down != 999 {
		t.Fatalf("updated fields not applied: %+v", row2)
	}

	var count int64
	db.Model(&model.ServerInbound{}).Where("server_id = ?", srv.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one inbound row, got %d", count)
	}
	if row2.LastSyncedAt == nil {
		t.Fatalf("expected LastSyncedAt to be set")
	}
}

func TestReconcileClientOrphanSkipped(t *testing.T) {
	db := newTestDB(t)
	rec := NewReconciler(db)

	stat := &panel.ClientTraffic{Email: "ghost@x.com", UUID: "11111111-1111-1111-1111-111111111111"}
	_, err := rec.ReconcileClient(context.Background(), stat)

	var orphan *OrphanClientError
	if !errors.As(err, &orphan) {
		t.Fatalf("expected OrphanClientError, got %v", err)
	}
	if orphan.Email != "ghost@x.com" {
		t.Fatalf("unexpected orphan payload: %+v", orphan)
	}

	var count int64
	db.Model(&model.ServerClient{}).Count(&count)
	if count != 0 {
		t.Fatalf("orphan payload must not create rows, found %d", count)
	}
}

func TestReconcileClientMatchByEmail(t *testing.T) {
	db := newTestDB(t)
	rec := NewReconciler(db)

	local := &model.ServerClient{Email: "a@x.com", Status: model.ClientStatusActive}
	if err := db.Create(local).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}

	expiry := time.Now().Add(24 * time.Hour).UnixMilli()
	stat := &panel.ClientTraffic{
		Email:      "a@x.com",
		UUID:       "22222222-2222-2222-2222-222222222222",
		Up:         50,
		Down:       60,
		ExpiryTime: expiry,
	}
	row, err := rec.ReconcileClient(context.Background(), stat)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if row.ID != local.ID {
		t.Fatalf("expected match on existing row %d, got %d", local.ID, row.ID)
	}
	if row.Up != 50 || row.Down != 60 {
		t.Fatalf("traffic not applied: %+v", row)
	}
	if row.UUID != stat.UUID {
		t.Fatalf("expected uuid backfill, got %q", row.UUID)
	}
	if row.ExpireAt == nil || row.ExpireAt.UnixMilli() != expiry {
		t.Fatalf("expiry not applied: %v", row.ExpireAt)
	}
}

func TestReconcileClientMatchByUUID(t *testing.T) {
	db := newTestDB(t)
	rec := NewReconciler(db)

	local := &model.ServerClient{
		Email:  "old-alias@x.com",
		UUID:   "33333333-3333-3333-3333-333333333333",
		Status: model.ClientStatusActive,
	}
	if err := db.Create(local).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}

	// Panel knows the client under a different email; the uuid still matches.
	stat := &panel.ClientTraffic{Email: "renamed@x.com", UUID: local.UUID, Up: 7}
	row, err := rec.ReconcileClient(context.Background(), stat)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if row.ID != local.ID {
		t.Fatalf("expected uuid match on row %d, got %d", local.ID, row.ID)
	}
	if row.Up != 7 {
		t.Fatalf("traffic not applied: %+v", row)
	}
}
