// Package model defines the database records the master keeps about managed
// panels, their inbounds and the proxy clients provisioned on them.
package model

import "time"

type ServerStatus string

const (
	ServerStatusUp      ServerStatus = "up"
	ServerStatusDown    ServerStatus = "down"
	ServerStatusError   ServerStatus = "error"
	ServerStatusSyncing ServerStatus = "syncing"
)

// Server is one managed proxy panel. Session and lockout fields are owned by
// the session store; the aggregate counters by the sync orchestrator.
type Server struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"size:255;not null"`
	PanelURL string `gorm:"size:500;not null"`
	Username string `gorm:"size:255;not null"`
	Password string `gorm:"size:255;not null"`

	Enable bool         `gorm:"default:true"`
	Status ServerStatus `gorm:"type:varchar(20);default:'down'"`

	SessionCookie       string `gorm:"size:2000"`
	SessionExpiresAt    *time.Time
	FailedLoginAttempts int `gorm:"default:0"`
	LoginLockedUntil    *time.Time

	RequestTimeout int `gorm:"default:30"` // seconds
	MaxRetries     int `gorm:"default:3"`

	TotalInbounds  int `gorm:"default:0"`
	ActiveInbounds int `gorm:"default:0"`
	OnlineClients  int `gorm:"default:0"`
	LastSyncAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Server) TableName() string {
	return "servers"
}

// ServerInbound mirrors an inbound configured on a panel. RemoteID is nil for
// rows created locally that have not been pushed or observed yet; once set,
// (server_id, remote_id) is unique.
type ServerInbound struct {
	ID       uint `gorm:"primaryKey"`
	ServerID uint `gorm:"index;uniqueIndex:idx_server_remote,priority:1"`
	RemoteID *int `gorm:"uniqueIndex:idx_server_remote,priority:2"`

	Protocol string `gorm:"size:20"`
	Port     int
	Remark   string `gorm:"size:255"`
	Enable   bool   `gorm:"default:true"`

	// Raw configuration snapshots as received from the panel.
	Settings       []byte `gorm:"type:json"`
	StreamSettings []byte `gorm:"type:json"`

	Up   int64 `gorm:"default:0"`
	Down int64 `gorm:"default:0"`

	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ServerInbound) TableName() string {
	return "server_inbounds"
}

type ClientStatus string

const (
	ClientStatusActive     ClientStatus = "active"
	ClientStatusSuspended  ClientStatus = "suspended"
	ClientStatusTerminated ClientStatus = "terminated"
)

// ServerClient is a provisioned proxy credential. Rows are created by order
// fulfillment; sync only updates traffic and online fields, never creates or
// deletes.
type ServerClient struct {
	ID              uint   `gorm:"primaryKey"`
	ServerInboundID *uint  `gorm:"index"`
	Email           string `gorm:"size:255;uniqueIndex;not null"`
	UUID            string `gorm:"size:36;index"` // remote client identifier
	SubID           string `gorm:"size:100"`

	Status ClientStatus `gorm:"type:varchar(20);default:'active'"`

	Up   int64 `gorm:"default:0"`
	Down int64 `gorm:"default:0"`

	IsOnline          bool `gorm:"default:false"`
	LastOnlineCheckAt *time.Time

	ExpireAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ServerClient) TableName() string {
	return "server_clients"
}
