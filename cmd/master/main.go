package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"
	"github.com/robfig/cron/v3"

	"github.com/kaspernux/1000proxy-sub002/internal/app/master"
	"github.com/kaspernux/1000proxy-sub002/internal/config"
	"github.com/kaspernux/1000proxy-sub002/internal/database"
	"github.com/kaspernux/1000proxy-sub002/internal/job"
	"github.com/kaspernux/1000proxy-sub002/internal/panel"
	"github.com/kaspernux/1000proxy-sub002/internal/service"
	"github.com/kaspernux/1000proxy-sub002/internal/session"
	"github.com/kaspernux/1000proxy-sub002/internal/syncer"
	"github.com/kaspernux/1000proxy-sub002/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadMasterConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if cfg.Debug {
		logger.InitLogger(logging.DEBUG)
	} else {
		logger.InitLogger(logging.INFO)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}

	if cfg.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			log.Fatalf("database migration error: %v", err)
		}
	}

	sessions := session.NewStore(db, cfg.LoginFailThreshold, cfg.LockoutDuration())
	executor := panel.NewExecutor(sessions, cfg.SessionTTL(), cfg.RetryDelay())
	orchestrator := syncer.NewOrchestrator(db, executor, sessions, cfg.SyncWorkers)

	serverService := service.NewServerService(db)
	provisionService := service.NewProvisionService(db, orchestrator)
	dashboardService := service.NewDashboardService(db)
	statusService := service.NewStatusService()

	scheduler := cron.New()
	if _, err := scheduler.AddJob(cfg.StatusCron, job.NewStatusJob(ctx, serverService, orchestrator)); err != nil {
		log.Fatalf("schedule status job: %v", err)
	}
	if _, err := scheduler.AddJob(cfg.SyncCron, job.NewSyncJob(ctx, orchestrator)); err != nil {
		log.Fatalf("schedule sync job: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := master.NewServer(cfg, serverService, provisionService, dashboardService, statusService, orchestrator)
	addr := ":" + cfg.HTTPPort

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		logger.Infof("master starting on https://%s", addr)
		log.Fatal(server.Engine().RunTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile))
		return
	}

	logger.Infof("master starting on http://%s", addr)
	log.Fatal(server.Run(addr))
}
