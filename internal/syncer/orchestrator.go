package syncer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/panel"
	"github.com/kaspernux/1000proxy-sub002/internal/session"
	"github.com/kaspernux/1000proxy-sub002/logger"

	"go.uber.org/atomic"
	"gorm.io/gorm"
)

// HealthStatus is the answer to a server health probe.
type HealthStatus struct {
	Accessible    bool `json:"accessible"`
	SessionValid  bool `json:"sessionValid"`
	APIResponsive bool `json:"apiResponsive"`
}

// Orchestrator runs synchronization passes. One server's failure never
// blocks another's; within a pass, item failures are collected into the
// report instead of aborting the remaining items.
type Orchestrator struct {
	db       *gorm.DB
	exec     *panel.Executor
	sessions *session.Store
	rec      *Reconciler
	workers  int
}

func NewOrchestrator(db *gorm.DB, exec *panel.Executor, sessions *session.Store, workers int) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		db:       db,
		exec:     exec,
		sessions: sessions,
		rec:      NewReconciler(db),
		workers:  workers,
	}
}

// Gateway returns a panel gateway bound to the given server, for callers
// (order fulfillment) that need direct pass-through operations.
func (o *Orchestrator) Gateway(srv *model.Server) *panel.Gateway {
	return panel.NewGateway(o.exec, srv)
}

// FullSync runs one complete pass for a server: inbounds, then the client
// stats embedded in them, then the online-status replace. The returned
// report is always non-nil; err is set only when the pass aborted before
// completing (lockout or total unreachability).
func (o *Orchestrator) FullSync(ctx context.Context, srv *model.Server) (*Report, error) {
	report := newReport(srv.ID)
	gw := o.Gateway(srv)

	inbounds, err := gw.ListInbounds(ctx)
	if err != nil {
		// Nothing can succeed without a session or a reachable panel.
		report.Aborted = true
		report.addError("inbounds", "list inbounds: %v", err)
		o.persistServerStatus(ctx, srv, model.ServerStatusError)
		return report.finish(), err
	}

	active := 0
	for _, remote := range inbounds {
		if _, err := o.rec.ReconcileInbound(ctx, srv, remote); err != nil {
			report.addError(fmt.Sprintf("inbound %d", remote.ID), "%v", err)
			continue
		}
		report.InboundsSynced++
		if remote.Enable {
			active++
		}

		for i := range remote.ClientStats {
			stat := &remote.ClientStats[i]
			if _, err := o.rec.ReconcileClient(ctx, stat); err != nil {
				report.addError(fmt.Sprintf("client %s", stat.Email), "%v", err)
				continue
			}
			report.ClientsSynced++
		}
	}

	online, onlineErr := gw.GetOnlineClients(ctx)
	if onlineErr != nil {
		report.addError("online", "list online clients: %v", onlineErr)
	} else {
		updated, err := o.replaceOnlineStatus(ctx, srv.ID, online)
		if err != nil {
			report.addError("online", "apply online status: %v", err)
		} else {
			report.OnlineUpdated = updated
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":          model.ServerStatusUp,
		"total_inbounds":  len(inbounds),
		"active_inbounds": active,
		"last_sync_at":    now,
	}
	// A failed online probe says nothing about the real count, so the stored
	// value is left untouched rather than zeroed.
	if onlineErr == nil {
		updates["online_clients"] = len(online)
	}
	err = o.db.WithContext(ctx).Model(&model.Server{}).Where("id = ?", srv.ID).Updates(updates).Error
	if err != nil {
		report.addError("server", "update aggregates: %v", err)
	} else {
		srv.Status = model.ServerStatusUp
		srv.TotalInbounds = len(inbounds)
		srv.ActiveInbounds = active
		srv.LastSyncAt = &now
		if onlineErr == nil {
			srv.OnlineClients = len(online)
		}
	}

	if report.Partial() {
		logger.Warningf("sync: server %d pass finished with %d item errors", srv.ID, len(report.Errors))
	} else {
		logger.Infof("sync: server %d pass finished: %d inbounds, %d clients, %d online updates",
			srv.ID, report.InboundsSynced, report.ClientsSynced, report.OnlineUpdated)
	}
	return report.finish(), nil
}

func (o *Orchestrator) persistServerStatus(ctx context.Context, srv *model.Server, status model.ServerStatus) {
	err := o.db.WithContext(ctx).Model(&model.Server{}).
		Where("id = ?", srv.ID).
		Update("status", status).Error
	if err != nil {
		logger.Warningf("sync: server %d persist status %s: %v", srv.ID, status, err)
		return
	}
	srv.Status = status
}

// replaceOnlineStatus performs a full replace for one server: exactly its
// clients whose email is in the online list end up marked online, the rest of
// its clients offline. Other servers' clients are never touched, so
// concurrent fleet passes stay independent. Deliberately not diff-based,
// trading write volume for correctness against missed transitions.
func (o *Orchestrator) replaceOnlineStatus(ctx context.Context, serverID uint, online []string) (int, error) {
	db := o.db.WithContext(ctx)
	now := time.Now()
	updated := int64(0)

	serverClients := func() *gorm.DB {
		return db.Model(&model.ServerClient{}).
			Where("server_inbound_id IN (?)",
				o.db.Model(&model.ServerInbound{}).Select("id").Where("server_id = ?", serverID))
	}

	if len(online) > 0 {
		res := serverClients().
			Where("email IN ?", online).
			Updates(map[string]interface{}{"is_online": true, "last_online_check_at": now})
		if res.Error != nil {
			return 0, res.Error
		}
		updated += res.RowsAffected

		res = serverClients().
			Where("email NOT IN ?", online).
			Updates(map[string]interface{}{"is_online": false, "last_online_check_at": now})
		if res.Error != nil {
			return int(updated), res.Error
		}
		updated += res.RowsAffected
	} else {
		res := serverClients().
			Where("is_online = ?", true).
			Updates(map[string]interface{}{"is_online": false, "last_online_check_at": now})
		if res.Error != nil {
			return 0, res.Error
		}
		updated += res.RowsAffected
	}

	return int(updated), nil
}

// SyncInbound applies one freshly fetched inbound payload without a full
// re-list, for callers that just created or updated it.
func (o *Orchestrator) SyncInbound(ctx context.Context, srv *model.Server, remote *panel.Inbound) (*model.ServerInbound, error) {
	return o.rec.ReconcileInbound(ctx, srv, remote)
}

// SyncClient applies one freshly fetched client traffic payload.
func (o *Orchestrator) SyncClient(ctx context.Context, stat *panel.ClientTraffic) (*model.ServerClient, error) {
	return o.rec.ReconcileClient(ctx, stat)
}

// SyncAll runs FullSync for every enabled server on a bounded worker pool.
// Servers are independent, so passes run concurrently; operations within a
// server stay sequential inside its pass.
func (o *Orchestrator) SyncAll(ctx context.Context) ([]*Report, error) {
	var servers []*model.Server
	if err := o.db.WithContext(ctx).Where("enable = ?", true).Find(&servers).Error; err != nil {
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reports  = make([]*Report, 0, len(servers))
		failures = atomic.NewInt64(0)
		sem      = make(chan struct{}, o.workers)
	)

	for _, srv := range servers {
		srv := srv
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			report, err := o.FullSync(ctx, srv)
			if err != nil {
				failures.Inc()
				logger.Warningf("sync: server %d pass aborted: %v", srv.ID, err)
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}()
	}
	wg.Wait()

	logger.Infof("sync: fleet pass complete, %d servers, %d aborted", len(servers), failures.Load())
	return reports, nil
}

// TestConnection reports whether the panel answers an authenticated API call.
func (o *Orchestrator) TestConnection(ctx context.Context, srv *model.Server) bool {
	_, err := o.Gateway(srv).ListInbounds(ctx)
	return err == nil
}

// GetHealthStatus probes the panel at three depths: raw reachability of the
// base URL, validity of the stored session, and an authenticated API call.
func (o *Orchestrator) GetHealthStatus(ctx context.Context, srv *model.Server) *HealthStatus {
	status := &HealthStatus{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.PanelURL, nil)
	if err == nil {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			status.Accessible = resp.StatusCode < http.StatusInternalServerError
		}
	}

	status.SessionValid = o.sessions.HasValidSession(srv)
	status.APIResponsive = o.TestConnection(ctx, srv)
	return status
}
