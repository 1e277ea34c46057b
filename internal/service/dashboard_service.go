package service

import (
	"context"
	"time"

	"github.com/kaspernux/1000proxy-sub002/internal/model"

	"gorm.io/gorm"
)

// FleetStats aggregates counters across every managed server.
type FleetStats struct {
	TotalServers   int64     `json:"totalServers"`
	ServersUp      int64     `json:"serversUp"`
	ServersDown    int64     `json:"serversDown"`
	ServersError   int64     `json:"serversError"`
	TotalInbounds  int64     `json:"totalInbounds"`
	ActiveInbounds int64     `json:"activeInbounds"`
	TotalClients   int64     `json:"totalClients"`
	OnlineClients  int64     `json:"onlineClients"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DashboardService aggregates fleet-wide statistics for the admin API.
type DashboardService struct {
	db *gorm.DB
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db}
}

func (s *DashboardService) GetFleetStats(ctx context.Context) (*FleetStats, error) {
	db := s.db.WithContext(ctx)
	stats := &FleetStats{UpdatedAt: time.Now()}

	if err := db.Model(&model.Server{}).Count(&stats.TotalServers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Server{}).Where("status = ?", model.ServerStatusUp).Count(&stats.ServersUp).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Server{}).Where("status = ?", model.ServerStatusDown).Count(&stats.ServersDown).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Server{}).Where("status = ?", model.ServerStatusError).Count(&stats.ServersError).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.ServerInbound{}).Count(&stats.TotalInbounds).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.ServerInbound{}).Where("enable = ?", true).Count(&stats.ActiveInbounds).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.ServerClient{}).Where("status != ?", model.ClientStatusTerminated).Count(&stats.TotalClients).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.ServerClient{}).Where("is_online = ?", true).Count(&stats.OnlineClients).Error; err != nil {
		return nil, err
	}

	return stats, nil
}
