package master

// ServerPayload is the create/update request body for a managed panel.
type ServerPayload struct {
	Name           string `json:"name"`
	PanelURL       string `json:"panel_url"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Enable         *bool  `json:"enable"`
	RequestTimeout int    `json:"request_timeout"`
	MaxRetries     int    `json:"max_retries"`
}

// AddClientPayload is the provisioning request body.
type AddClientPayload struct {
	InboundRemoteID int    `json:"inbound_remote_id"`
	Email           string `json:"email"`
	TotalGB         int64  `json:"total_gb"`
	ExpiryTime      int64  `json:"expiry_time"`
	LimitIP         int    `json:"limit_ip"`
}

// UpdateClientPayload carries the desired client state to push to the panel.
type UpdateClientPayload struct {
	TotalGB    int64 `json:"total_gb"`
	ExpiryTime int64 `json:"expiry_time"`
	Enable     bool  `json:"enable"`
}
