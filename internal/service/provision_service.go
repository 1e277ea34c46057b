package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/panel"
	"github.com/kaspernux/1000proxy-sub002/internal/syncer"
	"github.com/kaspernux/1000proxy-sub002/logger"
	"github.com/kaspernux/1000proxy-sub002/util/common"
)

// ProvisionRequest describes a client to create on a panel.
type ProvisionRequest struct {
	ServerID        uint
	InboundRemoteID int
	Email           string
	TotalGB         int64
	ExpiryTime      int64
	LimitIP         int
}

// ProvisionService is the order-fulfillment entry point: it owns creation of
// local client records and passes mutations through the panel gateway.
type ProvisionService struct {
	db  *gorm.DB
	orc *syncer.Orchestrator
}

func NewProvisionService(db *gorm.DB, orc *syncer.Orchestrator) *ProvisionService {
	return &ProvisionService{db: db, orc: orc}
}

// AddClient creates the credential on the panel and mirrors it locally. The
// remote identifier is generated here so retried calls stay addressable.
func (s *ProvisionService) AddClient(ctx context.Context, req *ProvisionRequest) (*model.ServerClient, error) {
	if req.Email == "" {
		return nil, common.NewError("client email is required")
	}

	srv, err := s.getServer(ctx, req.ServerID)
	if err != nil {
		return nil, err
	}

	var inbound model.ServerInbound
	err = s.db.WithContext(ctx).Where("server_id = ? AND remote_id = ?", req.ServerID, req.InboundRemoteID).First(&inbound).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewErrorf("inbound %d is not known on server %d, sync first", req.InboundRemoteID, req.ServerID)
	} else if err != nil {
		return nil, err
	}

	clientUUID := uuid.NewString()
	subID := uuid.NewString()[:16]
	settings := panel.ClientSettings{
		ID:         clientUUID,
		Email:      req.Email,
		LimitIP:    req.LimitIP,
		TotalGB:    req.TotalGB,
		ExpiryTime: req.ExpiryTime,
		Enable:     true,
		SubID:      subID,
	}

	gw := s.orc.Gateway(srv)
	if !gw.AddClient(ctx, req.InboundRemoteID, settings) {
		return nil, common.NewErrorf("panel rejected client %s on server %d", req.Email, srv.ID)
	}

	client := &model.ServerClient{
		ServerInboundID: &inbound.ID,
		Email:           req.Email,
		UUID:            clientUUID,
		SubID:           subID,
		Status:          model.ClientStatusActive,
	}
	if req.ExpiryTime > 0 {
		expiry := time.UnixMilli(req.ExpiryTime)
		client.ExpireAt = &expiry
	}
	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		// The remote side succeeded; the next sync will find the orphan and
		// flag it for manual reconciliation.
		logger.Errorf("provision: panel client %s created but local insert failed: %v", req.Email, err)
		return nil, err
	}

	logger.Infof("provision: client %s created on server %d inbound %d", req.Email, srv.ID, req.InboundRemoteID)
	return client, nil
}

// UpdateClient pushes the current desired state of a local client to the
// panel.
func (s *ProvisionService) UpdateClient(ctx context.Context, email string, totalGB, expiryTime int64, enable bool) error {
	client, inbound, err := s.getClientWithInbound(ctx, email)
	if err != nil {
		return err
	}

	srv, err := s.getServer(ctx, inbound.ServerID)
	if err != nil {
		return err
	}

	settings := panel.ClientSettings{
		ID:         client.UUID,
		Email:      client.Email,
		TotalGB:    totalGB,
		ExpiryTime: expiryTime,
		Enable:     enable,
		SubID:      client.SubID,
	}

	remoteID := 0
	if inbound.RemoteID != nil {
		remoteID = *inbound.RemoteID
	}
	if !s.orc.Gateway(srv).UpdateClient(ctx, client.UUID, remoteID, settings) {
		return common.NewErrorf("panel rejected update of client %s on server %d", email, srv.ID)
	}
	return nil
}

// DeleteClient removes the credential from the panel and terminates the
// local record. The row itself is kept for billing history.
func (s *ProvisionService) DeleteClient(ctx context.Context, email string) error {
	client, inbound, err := s.getClientWithInbound(ctx, email)
	if err != nil {
		return err
	}

	srv, err := s.getServer(ctx, inbound.ServerID)
	if err != nil {
		return err
	}

	remoteID := 0
	if inbound.RemoteID != nil {
		remoteID = *inbound.RemoteID
	}
	if !s.orc.Gateway(srv).DeleteClient(ctx, remoteID, client.UUID) {
		return common.NewErrorf("panel rejected delete of client %s on server %d", email, srv.ID)
	}

	return s.db.WithContext(ctx).Model(client).Updates(map[string]interface{}{
		"status":    model.ClientStatusTerminated,
		"is_online": false,
	}).Error
}

// ResetClientTraffic zeroes the usage counters on the panel and locally.
func (s *ProvisionService) ResetClientTraffic(ctx context.Context, email string) error {
	client, inbound, err := s.getClientWithInbound(ctx, email)
	if err != nil {
		return err
	}

	srv, err := s.getServer(ctx, inbound.ServerID)
	if err != nil {
		return err
	}

	remoteID := 0
	if inbound.RemoteID != nil {
		remoteID = *inbound.RemoteID
	}
	if !s.orc.Gateway(srv).ResetClientTraffic(ctx, remoteID, email) {
		return common.NewErrorf("panel rejected traffic reset for client %s on server %d", email, srv.ID)
	}

	return s.db.WithContext(ctx).Model(client).Updates(map[string]interface{}{"up": 0, "down": 0}).Error
}

func (s *ProvisionService) getServer(ctx context.Context, id uint) (*model.Server, error) {
	var srv model.Server
	if err := s.db.WithContext(ctx).First(&srv, id).Error; err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *ProvisionService) getClientWithInbound(ctx context.Context, email string) (*model.ServerClient, *model.ServerInbound, error) {
	var client model.ServerClient
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&client).Error; err != nil {
		return nil, nil, err
	}
	if client.ServerInboundID == nil {
		return nil, nil, common.NewErrorf("client %s has no inbound attached", email)
	}
	var inbound model.ServerInbound
	if err := s.db.WithContext(ctx).First(&inbound, *client.ServerInboundID).Error; err != nil {
		return nil, nil, err
	}
	return &client, &inbound, nil
}
