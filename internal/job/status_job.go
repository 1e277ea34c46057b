package job

import (
	"context"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/service"
	"github.com/kaspernux/1000proxy-sub002/internal/syncer"
	"github.com/kaspernux/1000proxy-sub002/logger"
)

// StatusJob periodically probes every enabled server and records its status.
type StatusJob struct {
	ctx           context.Context
	serverService *service.ServerService
	orchestrator  *syncer.Orchestrator
}

func NewStatusJob(ctx context.Context, serverService *service.ServerService, orchestrator *syncer.Orchestrator) *StatusJob {
	return &StatusJob{ctx: ctx, serverService: serverService, orchestrator: orchestrator}
}

func (j *StatusJob) Run() {
	servers, err := j.serverService.GetEnabledServers(j.ctx)
	if err != nil {
		logger.Errorf("StatusJob: list servers failed: %v", err)
		return
	}

	for _, srv := range servers {
		status := model.ServerStatusDown
		if j.orchestrator.TestConnection(j.ctx, srv) {
			status = model.ServerStatusUp
		}
		if err := j.serverService.UpdateServerStatus(j.ctx, srv.ID, status); err != nil {
			logger.Warningf("StatusJob: update status for server %d failed: %v", srv.ID, err)
		}
	}
}
