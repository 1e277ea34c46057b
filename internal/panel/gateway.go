package panel

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/kaspernux/1000proxy-sub002/internal/model"
	"github.com/kaspernux/1000proxy-sub002/logger"
)

// Gateway exposes one typed method per panel capability for a single server.
// Read methods return payloads or errors; mutations used in best-effort bulk
// flows collapse failures to false after logging them with full context.
type Gateway struct {
	exec *Executor
	srv  *model.Server
}

// NewGateway creates a gateway bound to one server.
func NewGateway(exec *Executor, srv *model.Server) *Gateway {
	return &Gateway{exec: exec, srv: srv}
}

// Server returns the server this gateway talks to.
func (g *Gateway) Server() *model.Server {
	return g.srv
}

func (g *Gateway) decode(resp *ApiResponse, out any) error {
	if len(resp.Obj) == 0 || bytes.Equal(resp.Obj, []byte("null")) {
		return ErrNotFound
	}
	if err := json.Unmarshal(resp.Obj, out); err != nil {
		return fmt.Errorf("decode panel payload: %w", err)
	}
	return nil
}

// call runs a request and collapses the outcome to a boolean, logging the
// failure. Used for the best-effort mutation endpoints.
func (g *Gateway) call(ctx context.Context, method, path string, body any) bool {
	_, err := g.exec.Do(ctx, g.srv, method, path, body)
	if err != nil {
		logger.Errorf("panel: server %d %s %s: %v", g.srv.ID, method, path, err)
		return false
	}
	return true
}

// ListInbounds returns every inbound configured on the panel.
func (g *Gateway) ListInbounds(ctx context.Context) ([]*Inbound, error) {
	resp, err := g.exec.Do(ctx, g.srv, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	var inbounds []*Inbound
	if err := g.decode(resp, &inbounds); err != nil {
		if err == ErrNotFound {
			return []*Inbound{}, nil
		}
		return nil, err
	}
	return inbounds, nil
}

// GetInbound fetches one inbound by its remote identifier.
func (g *Gateway) GetInbound(ctx context.Context, id int) (*Inbound, error) {
	resp, err := g.exec.Do(ctx, g.srv, http.MethodGet, fmt.Sprintf("/panel/api/inbounds/get/%d", id), nil)
	if err != nil {
		return nil, err
	}
	var inbound Inbound
	if err := g.decode(resp, &inbound); err != nil {
		return nil, err
	}
	return &inbound, nil
}

func (g *Gateway) CreateInbound(ctx context.Context, spec *InboundSpec) bool {
	return g.call(ctx, http.MethodPost, "/panel/api/inbounds/add", spec)
}

func (g *Gateway) UpdateInbound(ctx context.Context, id int, spec *InboundSpec) bool {
	return g.call(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/update/%d", id), spec)
}

func (g *Gateway) DeleteInbound(ctx context.Context, id int) bool {
	return g.call(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/del/%d", id), nil)
}

// AddClient provisions a new client on the given inbound.
func (g *Gateway) AddClient(ctx context.Context, inboundID int, client ClientSettings) bool {
	req, err := newClientRequest(inboundID, client)
	if err != nil {
		logger.Errorf("panel: server %d addClient marshal: %v", g.srv.ID, err)
		return false
	}
	return g.call(ctx, http.MethodPost, "/panel/api/inbounds/addClient", req)
}

// UpdateClient rewrites an existing client, addressed by its remote uuid.
func (g *Gateway) UpdateClient(ctx context.Context, uuid string, inboundID int, client ClientSettings) bool {
	req, err := newClientRequest(inboundID, client)
	if err != nil {
		logger.Errorf("panel: server %d updateClient marshal: %v", g.srv.ID, err)
		return false
	}
	return g.call(ctx, http.MethodPost, "/panel/api/inbounds/updateClient/"+uuid, req)
}

func (g *Gateway) DeleteClient(ctx context.Context, inboundID int, uuid string) bool {
	return g.call(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundID, uuid), nil)
}

// GetClientByEmail looks up traffic stats for one client by its email key.
// Returns ErrNotFound when the panel has no such client; transport failures
// surface as *RequestError.
func (g *Gateway) GetClientByEmail(ctx context.Context, email string) (*ClientTraffic, error) {
	resp, err := g.exec.Do(ctx, g.srv, http.MethodGet, "/panel/api/inbounds/getClientTraffics/"+email, nil)
	if err != nil {
		return nil, err
	}
	var traffic ClientTraffic
	if err := g.decode(resp, &traffic); err != nil {
		return nil, err
	}
	if traffic.Email == "" {
		return nil, ErrNotFound
	}
	return &traffic, nil
}

// GetClientByUUID looks up traffic stats by the remote client identifier.
// The panel answers with an array; the first entry wins.
func (g *Gateway) GetClientByUUID(ctx context.Context, uuid string) (*ClientTraffic, error) {
	resp, err := g.exec.Do(ctx, g.srv, http.MethodGet, "/panel/api/inbounds/getClientTrafficsById/"+uuid, nil)
	if err != nil {
		return nil, err
	}
	var traffics []*ClientTraffic
	if err := g.decode(resp, &traffics); err != nil {
		return nil, err
	}
	if len(traffics) == 0 {
		return nil, ErrNotFound
	}
	return traffics[0], nil
}

// GetClientIPs returns the recorded source addresses for a client. The panel
// reports "No IP Record" as a plain string, which maps to an empty list.
func (g *Gateway) GetClientIPs(ctx context.Context, email string) ([]string, error) {
	resp, err := g.exec.Do(ctx, g.srv, http.MethodPost, "/panel/api/inbounds/clientIps/"+email, nil)
	if err != nil {
		return nil, err
	}
	var raw string
	if err := g.decode(resp, &raw); err != nil {
		if err == ErrNotFound {
			return []string{}, nil
		}
		return nil, err
	}
	if raw == "" || strings.EqualFold(raw, "no ip record") {
		return []string{}, nil
	}
	ips := strings.Fields(strings.ReplaceAll(raw, ",", " "))
	return ips, nil
}

func (g *Gateway) ClearClientIPs(ctx context.Context, email string) bool {
	return g.call(ctx, http.MethodPost, "/panel/api/inbounds/clearClientIps/"+email, nil)
}

func (g *Gateway) ResetClientTraffic(ctx context.Context, inboundID int, email string) bool {
	return g.call(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/%d/resetClientTraffic/%s", inboundID, email), nil)
}

func (g *Gateway) ResetAllClientTraffics(ctx context.Context, inboundID int) bool {
	return g.call(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/resetAllClientTraffics/%d", inboundID), nil)
}

func (g *Gateway) ResetAllTraffics(ctx context.Context) bool {
	return g.call(ctx, http.MethodPost, "/panel/api/inbounds/resetAllTraffics", nil)
}

// GetOnlineClients returns the emails of clients currently connected.
func (g *Gateway) GetOnlineClients(ctx context.Context) ([]string, error) {
	resp, err := g.exec.Do(ctx, g.srv, http.MethodPost, "/panel/api/inbounds/onlines", nil)
	if err != nil {
		return nil, err
	}
	var emails []string
	if err := g.decode(resp, &emails); err != nil {
		if err == ErrNotFound {
			return []string{}, nil
		}
		return nil, err
	}
	return emails, nil
}

func (g *Gateway) DeleteDepletedClients(ctx context.Context, inboundID int) bool {
	return g.call(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/delDepletedClients/%d", inboundID), nil)
}

func (g *Gateway) CreateBackup(ctx context.Context) bool {
	return g.call(ctx, http.MethodGet, "/panel/api/inbounds/createbackup", nil)
}
