// Package service provides business logic over the local store: server CRUD,
// provisioning pass-throughs, fleet aggregation and host status.
package service

import (
	"context"
	"net/url"
	"time"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/util/common"

	"gorm.io/gorm"
)

// ServerService manages the Server rows describing remote panels.
type ServerService struct {
	db *gorm.DB
}

func NewServerService(db *gorm.DB) *ServerService {
	return &ServerService{db: db}
}

func validateServer(srv *model.Server) error {
	if srv.Name == "" {
		return common.NewError("server name is required")
	}
	if srv.PanelURL == "" {
		return common.NewError("server panel URL is required")
	}
	parsed, err := url.Parse(srv.PanelURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return common.NewErrorf("invalid panel URL: %s", srv.PanelURL)
	}
	if srv.Username == "" || srv.Password == "" {
		return common.NewError("panel credentials are required")
	}
	return nil
}

// AddServer validates and stores a new server with defaults applied.
func (s *ServerService) AddServer(ctx context.Context, srv *model.Server) error {
	if err := validateServer(srv); err != nil {
		return err
	}

	if srv.Status == "" {
		srv.Status = model.ServerStatusDown
	}
	if srv.RequestTimeout <= 0 {
		srv.RequestTimeout = 30
	}
	if srv.MaxRetries <= 0 {
		srv.MaxRetries = 3
	}

	return s.db.WithContext(ctx).Create(srv).Error
}

func (s *ServerService) UpdateServer(ctx context.Context, srv *model.Server) error {
	if srv.ID == 0 {
		return common.NewError("server ID is required")
	}
	if err := validateServer(srv); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(srv).Error
}

// DeleteServer removes a server together with its mirrored inbounds. Client
// rows survive; they belong to order fulfillment.
func (s *ServerService) DeleteServer(ctx context.Context, id uint) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("server_id = ?", id).Delete(&model.ServerInbound{}).Error; err != nil {
		return common.NewErrorf("delete inbounds of server %d: %v", id, err)
	}
	return db.Delete(&model.Server{}, id).Error
}

func (s *ServerService) GetServer(ctx context.Context, id uint) (*model.Server, error) {
	var srv model.Server
	if err := s.db.WithContext(ctx).First(&srv, id).Error; err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *ServerService) GetAllServers(ctx context.Context) ([]*model.Server, error) {
	var servers []*model.Server
	if err := s.db.WithContext(ctx).Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func (s *ServerService) GetEnabledServers(ctx context.Context) ([]*model.Server, error) {
	var servers []*model.Server
	if err := s.db.WithContext(ctx).Where("enable = ?", true).Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

// UpdateServerStatus persists a status transition observed by a health check.
func (s *ServerService) UpdateServerStatus(ctx context.Context, id uint, status model.ServerStatus) error {
	return s.db.WithContext(ctx).Model(&model.Server{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (s *ServerService) GetServerInbounds(ctx context.Context, serverID uint) ([]*model.ServerInbound, error) {
	var inbounds []*model.ServerInbound
	if err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Find(&inbounds).Error; err != nil {
		return nil, err
	}
	return inbounds, nil
}
