package panel

import (
	json "github.com/goccy/go-json"
)

// ApiResponse is the envelope every panel endpoint answers with.
type ApiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Inbound is a listening endpoint as reported by the panel, including the
// embedded per-client traffic statistics.
type Inbound struct {
	ID             int             `json:"id"`
	Up             int64           `json:"up"`
	Down           int64           `json:"down"`
	Total          int64           `json:"total"`
	Remark         string          `json:"remark"`
	Enable         bool            `json:"enable"`
	ExpiryTime     int64           `json:"expiryTime"`
	ClientStats    []ClientTraffic `json:"clientStats"`
	Listen         string          `json:"listen"`
	Port           int             `json:"port"`
	Protocol       string          `json:"protocol"`
	Settings       string          `json:"settings"`
	StreamSettings string          `json:"streamSettings"`
	Tag            string          `json:"tag"`
	Sniffing       string          `json:"sniffing"`
}

// ClientTraffic carries usage counters for one client identity.
type ClientTraffic struct {
	ID         int    `json:"id"`
	InboundID  int    `json:"inboundId"`
	Enable     bool   `json:"enable"`
	Email      string `json:"email"`
	UUID       string `json:"uuid"`
	SubID      string `json:"subId"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	AllTime    int64  `json:"allTime"`
	ExpiryTime int64  `json:"expiryTime"`
	Total      int64  `json:"total"`
	Reset      int    `json:"reset"`
	LastOnline int64  `json:"lastOnline"`
}

// ClientSettings is one client entry inside an inbound's settings JSON.
type ClientSettings struct {
	ID         string `json:"id"`
	Flow       string `json:"flow,omitempty"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       int64  `json:"tgId"`
	SubID      string `json:"subId"`
	Comment    string `json:"comment,omitempty"`
	Reset      int    `json:"reset"`
}

type clientSettingsWrapper struct {
	Clients []ClientSettings `json:"clients"`
}

// clientRequest is the body for addClient/updateClient calls: the target
// inbound id plus a settings JSON string holding the client list.
type clientRequest struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

func newClientRequest(inboundID int, clients ...ClientSettings) (*clientRequest, error) {
	settings, err := json.Marshal(clientSettingsWrapper{Clients: clients})
	if err != nil {
		return nil, err
	}
	return &clientRequest{ID: inboundID, Settings: string(settings)}, nil
}

// InboundSpec is the writable portion of an inbound configuration for
// create/update calls.
type InboundSpec struct {
	Up             int64  `json:"up"`
	Down           int64  `json:"down"`
	Total          int64  `json:"total"`
	Remark         string `json:"remark"`
	Enable         bool   `json:"enable"`
	ExpiryTime     int64  `json:"expiryTime"`
	Listen         string `json:"listen"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
	Sniffing       string `json:"sniffing"`
}
