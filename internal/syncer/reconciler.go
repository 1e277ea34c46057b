// Package syncer converges local server, inbound and client records with the
// state reported by remote panels.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/panel"
	"github.com/kaspernux/1000proxy-sub002/logger"

	"gorm.io/gorm"
)

// OrphanClientError marks a remote stats payload that matched no local
// client record. Sync never fabricates client rows, so these are logged and
// skipped rather than raised.
type OrphanClientError struct {
	Email string
	UUID  string
}

func (e *OrphanClientError) Error() string {
	return fmt.Sprintf("no local client for remote payload (email=%q uuid=%q)", e.Email, e.UUID)
}

// Reconciler applies one remote payload at a time onto local records.
// Inbounds may be created from remote data (the panel is authoritative for
// infrastructure configuration); clients may not (they are owned by order
// fulfillment).
type Reconciler struct {
	db *gorm.DB
}

func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// ReconcileInbound upserts the local record for one remote inbound, keyed by
// (server, remote id). Running it twice with the same payload converges to
// the same row.
func (r *Reconciler) ReconcileInbound(ctx context.Context, srv *model.Server, remote *panel.Inbound) (*model.ServerInbound, error) {
	db := r.db.WithContext(ctx)

	var row model.ServerInbound
	err := db.Where("server_id = ? AND remote_id = ?", srv.ID, remote.ID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		remoteID := remote.ID
		row = model.ServerInbound{
			ServerID: srv.ID,
			RemoteID: &remoteID,
			Protocol: remote.Protocol,
			Port:     remote.Port,
		}
	} else if err != nil {
		return nil, err
	}

	now := time.Now()
	row.Protocol = remote.Protocol
	row.Port = remote.Port
	row.Remark = remote.Remark
	row.Enable = remote.Enable
	row.Settings = []byte(remote.Settings)
	row.StreamSettings = []byte(remote.StreamSettings)
	row.Up = remote.Up
	row.Down = remote.Down
	row.LastSyncedAt = &now

	if err := db.Save(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ReconcileClient applies a remote traffic payload onto the matching local
// client: by email first, then by remote uuid. A payload matching neither
// yields an *OrphanClientError and touches nothing.
func (r *Reconciler) ReconcileClient(ctx context.Context, stat *panel.ClientTraffic) (*model.ServerClient, error) {
	db := r.db.WithContext(ctx)

	var row model.ServerClient
	err := db.Where("email = ?", stat.Email).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && stat.UUID != "" {
		err = db.Where("uuid = ?", stat.UUID).First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warningf("sync: skipping orphan client payload email=%q uuid=%q", stat.Email, stat.UUID)
		return nil, &OrphanClientError{Email: stat.Email, UUID: stat.UUID}
	}
	if err != nil {
		return nil, err
	}

	row.Up = stat.Up
	row.Down = stat.Down
	if row.UUID == "" && stat.UUID != "" {
		row.UUID = stat.UUID
	}
	if stat.ExpiryTime > 0 {
		expiry := time.UnixMilli(stat.ExpiryTime)
		row.ExpireAt = &expiry
	}

	if err := db.Save(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
