// Package job holds the cron-scheduled background tasks.
package job

import (
	"context"

	"github.com/kaspernux/1000proxy-sub002/internal/syncer"
	"github.com/kaspernux/1000proxy-sub002/logger"
)

// SyncJob periodically runs a full synchronization pass across all enabled
// servers.
type SyncJob struct {
	ctx          context.Context
	orchestrator *syncer.Orchestrator
}

func NewSyncJob(ctx context.Context, orchestrator *syncer.Orchestrator) *SyncJob {
	return &SyncJob{ctx: ctx, orchestrator: orchestrator}
}

func (j *SyncJob) Run() {
	reports, err := j.orchestrator.SyncAll(j.ctx)
	if err != nil {
		logger.Errorf("SyncJob: fleet sync failed: %v", err)
		return
	}
	for _, report := range reports {
		if report.Partial() {
			logger.Warningf("SyncJob: server %d had %d item errors", report.ServerID, len(report.Errors))
		}
	}
}
