// Package master implements the admin HTTP API: server CRUD, sync triggers,
// health probes, provisioning pass-throughs and fleet dashboard.
package master

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kaspernux/1000proxy-sub002/internal/config"
	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/internal/service"
	"github.com/kaspernux/1000proxy-sub002/internal/syncer"
	"github.com/kaspernux/1000proxy-sub002/logger"
)

type Server struct {
	cfg              *config.MasterConfig
	engine           *gin.Engine
	serverService    *service.ServerService
	provisionService *service.ProvisionService
	dashboardService *service.DashboardService
	statusService    *service.StatusService
	orchestrator     *syncer.Orchestrator
}

func NewServer(cfg *config.MasterConfig, serverService *service.ServerService, provisionService *service.ProvisionService, dashboardService *service.DashboardService, statusService *service.StatusService, orchestrator *syncer.Orchestrator) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	s := &Server{
		cfg:              cfg,
		engine:           engine,
		serverService:    serverService,
		provisionService: provisionService,
		dashboardService: dashboardService,
		statusService:    statusService,
		orchestrator:     orchestrator,
	}

	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		admin := api.Group("", APIKeyMiddleware(s.cfg.APIKey))
		{
			admin.GET("/dashboard", s.handleDashboard)
			admin.GET("/logs", s.handleLogs)

			admin.GET("/servers", s.handleListServers)
			admin.POST("/servers", s.handleCreateServer)
			admin.PUT("/servers/:id", s.handleUpdateServer)
			admin.DELETE("/servers/:id", s.handleDeleteServer)

			admin.POST("/servers/:id/sync", s.handleSyncServer)
			admin.POST("/servers/:id/test", s.handleTestServer)
			admin.GET("/servers/:id/health", s.handleServerHealth)
			admin.GET("/servers/:id/inbounds", s.handleServerInbounds)

			admin.POST("/servers/:id/clients", s.handleAddClient)
			admin.PUT("/clients/:email", s.handleUpdateClient)
			admin.DELETE("/clients/:email", s.handleDeleteClient)
			admin.POST("/clients/:email/reset-traffic", s.handleResetClientTraffic)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"host":      s.statusService.GetHostStatus(),
	})
}

func (s *Server) handleDashboard(c *gin.Context) {
	stats, err := s.dashboardService.GetFleetStats(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (s *Server) handleLogs(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid count")
		return
	}
	entries := logger.GetRecentLogs(count)

	response := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		response = append(response, gin.H{
			"time":    e.Time,
			"level":   e.Level.String(),
			"message": e.Message,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": response})
}

func (s *Server) handleListServers(c *gin.Context) {
	servers, err := s.serverService.GetAllServers(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]gin.H, 0, len(servers))
	for _, srv := range servers {
		response = append(response, gin.H{
			"id":              srv.ID,
			"name":            srv.Name,
			"panel_url":       srv.PanelURL,
			"enable":          srv.Enable,
			"status":          srv.Status,
			"total_inbounds":  srv.TotalInbounds,
			"active_inbounds": srv.ActiveInbounds,
			"online_clients":  srv.OnlineClients,
			"last_sync_at":    srv.LastSyncAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": response})
}

func (s *Server) handleCreateServer(c *gin.Context) {
	var payload ServerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}

	srv := &model.Server{
		Name:           payload.Name,
		PanelURL:       payload.PanelURL,
		Username:       payload.Username,
		Password:       payload.Password,
		Enable:         payload.Enable == nil || *payload.Enable,
		RequestTimeout: payload.RequestTimeout,
		MaxRetries:     payload.MaxRetries,
	}
	if err := s.serverService.AddServer(c.Request.Context(), srv); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": srv.ID}})
}

func (s *Server) handleUpdateServer(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}

	srv, err := s.serverService.GetServer(c.Request.Context(), id)
	if err != nil {
		s.respondNotFoundOrError(c, err)
		return
	}

	var payload ServerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}

	if payload.Name != "" {
		srv.Name = payload.Name
	}
	if payload.PanelURL != "" {
		srv.PanelURL = payload.PanelURL
	}
	if payload.Username != "" {
		srv.Username = payload.Username
	}
	if payload.Password != "" {
		srv.Password = payload.Password
	}
	if payload.Enable != nil {
		srv.Enable = *payload.Enable
	}
	if payload.RequestTimeout > 0 {
		srv.RequestTimeout = payload.RequestTimeout
	}
	if payload.MaxRetries > 0 {
		srv.MaxRetries = payload.MaxRetries
	}

	if err := s.serverService.UpdateServer(c.Request.Context(), srv); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteServer(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	if err := s.serverService.DeleteServer(c.Request.Context(), id); err != nil {
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSyncServer(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	srv, err := s.serverService.GetServer(c.Request.Context(), id)
	if err != nil {
		s.respondNotFoundOrError(c, err)
		return
	}

	report, syncErr := s.orchestrator.FullSync(c.Request.Context(), srv)
	// The report is returned even for an aborted pass; callers alert on its
	// contents rather than on the HTTP status.
	c.JSON(http.StatusOK, gin.H{
		"success": syncErr == nil,
		"data":    report,
	})
}

func (s *Server) handleTestServer(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	srv, err := s.serverService.GetServer(c.Request.Context(), id)
	if err != nil {
		s.respondNotFoundOrError(c, err)
		return
	}
	reachable := s.orchestrator.TestConnection(c.Request.Context(), srv)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"reachable": reachable}})
}

func (s *Server) handleServerHealth(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	srv, err := s.serverService.GetServer(c.Request.Context(), id)
	if err != nil {
		s.respondNotFoundOrError(c, err)
		return
	}
	health := s.orchestrator.GetHealthStatus(c.Request.Context(), srv)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": health})
}

func (s *Server) handleServerInbounds(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	inbounds, err := s.serverService.GetServerInbounds(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": inbounds})
}

func (s *Server) handleAddClient(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	var payload AddClientPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}

	client, err := s.provisionService.AddClient(c.Request.Context(), &service.ProvisionRequest{
		ServerID:        id,
		InboundRemoteID: payload.InboundRemoteID,
		Email:           payload.Email,
		TotalGB:         payload.TotalGB,
		ExpiryTime:      payload.ExpiryTime,
		LimitIP:         payload.LimitIP,
	})
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"id":    client.ID,
		"email": client.Email,
		"uuid":  client.UUID,
	}})
}

func (s *Server) handleUpdateClient(c *gin.Context) {
	email := c.Param("email")
	var payload UpdateClientPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.provisionService.UpdateClient(c.Request.Context(), email, payload.TotalGB, payload.ExpiryTime, payload.Enable); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteClient(c *gin.Context) {
	email := c.Param("email")
	if err := s.provisionService.DeleteClient(c.Request.Context(), email); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleResetClientTraffic(c *gin.Context) {
	email := c.Param("email")
	if err := s.provisionService.ResetClientTraffic(c.Request.Context(), email); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid server id")
		return 0, false
	}
	return uint(id), true
}

func (s *Server) respondNotFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.respondError(c, http.StatusNotFound, "server not found")
		return
	}
	s.respondError(c, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}
