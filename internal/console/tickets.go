package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
)

var tracer = otel.Tracer("console-tickets")

const (
	agentTicketTTL   = 2 * time.Minute
	browserTokenTTL  = 5 * time.Minute
	defaultTunnelTTL = 900
)

// AgentClaims is the short-lived ticket the agent presents to the tunnel
// broker when it dials back.
type AgentClaims struct {
	Action   string `json:"act"`
	TunnelID string `json:"tunnelId"`
	VMID     string `json:"vmId"`
	TenantID string `json:"tenantId"`
	AgentID  string `json:"agentId"`
	jwt.RegisteredClaims
}

// BrowserClaims is the token the browser presents to the public websocket
// endpoint.
type BrowserClaims struct {
	Mode     string `json:"mode"`
	TunnelID string `json:"tunnelId"`
	VMID     string `json:"vmId"`
	TenantID string `json:"tenantId"`
	jwt.RegisteredClaims
}

// Target is the in-guest endpoint a net tunnel connects to.
type Target struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// TunnelPlan pairs the payload handed to the agent with the connection
// details returned to the caller's UI.
type TunnelPlan struct {
	AgentData map[string]interface{} `json:"agentData"`
	UI        map[string]interface{} `json:"ui"`
}

// TicketService mints the two tickets of a console tunnel: one for the
// agent (dials the tunnel broker) and one for the browser (dials the
// public gateway). The controller never relays console bytes itself.
type TicketService struct {
	links         store.ResourceStore
	agentSecret   []byte
	browserSecret []byte
	publicWSBase  string
	brokerWSBase  string
	tracer        trace.Tracer
}

// NewTicketService creates a ticket service.
func NewTicketService(links store.ResourceStore, agentSecret, browserSecret, publicWSBase, brokerWSBase string) (*TicketService, error) {
	if agentSecret == "" || browserSecret == "" {
		return nil, fmt.Errorf("agent and browser ticket secrets are required")
	}
	if publicWSBase == "" || brokerWSBase == "" {
		return nil, fmt.Errorf("public and broker websocket base URLs are required")
	}
	base := strings.TrimRight(publicWSBase, "/")
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	return &TicketService{
		links:         links,
		agentSecret:   []byte(agentSecret),
		browserSecret: []byte(browserSecret),
		publicWSBase:  base,
		brokerWSBase:  strings.TrimRight(brokerWSBase, "/"),
		tracer:        tracer,
	}, nil
}

func newTunnelID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:22]
}

func (ts *TicketService) loadVM(ctx context.Context, tenantID, agentID, refID string) (*models.TenantResourceLink, error) {
	if refID == "" {
		return nil, fmt.Errorf("vm refId is required")
	}
	var link *models.TenantResourceLink
	var err error
	if tenantID != "" {
		link, err = ts.links.FindLink(ctx, tenantID, models.KindVM, agentID, refID)
	} else {
		link, err = ts.links.GetLink(ctx, models.KindVM, agentID, refID)
	}
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("vm not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vm: %w", err)
	}
	if agentID != "" && link.AgentID != "" && link.AgentID != agentID {
		return nil, fmt.Errorf("agentId mismatch for vm %s", refID)
	}
	return link, nil
}

func (ts *TicketService) mintAgentTicket(action, tunnelID, vmID, tenantID, agentID string) (string, error) {
	now := time.Now()
	claims := &AgentClaims{
		Action:   action,
		TunnelID: tunnelID,
		VMID:     vmID,
		TenantID: tenantID,
		AgentID:  agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"agent"},
			ExpiresAt: jwt.NewNumericDate(now.Add(agentTicketTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	ticket, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.agentSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign agent ticket: %w", err)
	}
	return ticket, nil
}

func (ts *TicketService) mintBrowserToken(mode, tunnelID, vmID, tenantID, subject string) (string, error) {
	now := time.Now()
	claims := &BrowserClaims{
		Mode:     mode,
		TunnelID: tunnelID,
		VMID:     vmID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"browser"},
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(browserTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.browserSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign browser token: %w", err)
	}
	return token, nil
}

func (ts *TicketService) browserWSURL(mode, token string) string {
	if mode == "serial" {
		return ts.publicWSBase + "/v1/console/serial/ws?t=" + token
	}
	return ts.publicWSBase + "/v1/console/net/ws?t=" + token
}

func (ts *TicketService) agentWSURL(tunnelID, ticket string) string {
	return ts.brokerWSBase + "/ws/tunnel/" + tunnelID + "?ticket=" + ticket
}

func (ts *TicketService) plan(ctx context.Context, action, mode, tenantID, agentID, refID, subject string, ttlSeconds int, target *Target) (*TunnelPlan, error) {
	vm, err := ts.loadVM(ctx, tenantID, agentID, refID)
	if err != nil {
		return nil, err
	}
	if agentID == "" {
		agentID = vm.AgentID
	}
	tunnelID := newTunnelID()

	ticket, err := ts.mintAgentTicket(action, tunnelID, vm.RefID, vm.TenantID, agentID)
	if err != nil {
		return nil, err
	}
	browserToken, err := ts.mintBrowserToken(mode, tunnelID, vm.RefID, vm.TenantID, subject)
	if err != nil {
		return nil, err
	}
	if ttlSeconds <= 0 {
		ttlSeconds = defaultTunnelTTL
	}

	agentData := map[string]interface{}{
		"vmId":       vm.RefID,
		"tunnelId":   tunnelID,
		"ticket":     ticket,
		"agentWsUrl": ts.agentWSURL(tunnelID, ticket),
		"ttlSeconds": ttlSeconds,
	}
	if target != nil {
		agentData["target"] = map[string]interface{}{"ip": target.IP, "port": target.Port}
	}

	return &TunnelPlan{
		AgentData: agentData,
		UI: map[string]interface{}{
			"tunnelId":  tunnelID,
			"wsUrl":     ts.browserWSURL(mode, browserToken),
			"expiresAt": time.Now().Add(browserTokenTTL).UTC().Format(time.RFC3339),
			"mode":      mode,
		},
	}, nil
}

// PlanSerialOpen prepares a serial console tunnel for the VM.
func (ts *TicketService) PlanSerialOpen(ctx context.Context, tenantID, agentID, refID, subject string, ttlSeconds int) (*TunnelPlan, error) {
	ctx, span := ts.tracer.Start(ctx, "console.plan_serial_open")
	defer span.End()
	span.SetAttributes(
		attribute.String("vm.ref_id", refID),
		attribute.String("agent.id", agentID),
	)
	return ts.plan(ctx, models.ActionConsoleSerial, "serial", tenantID, agentID, refID, subject, ttlSeconds, nil)
}

// PlanNetTunnelOpen prepares a generic TCP tunnel (SSH, RDP, VNC) to an
// in-guest endpoint of the VM.
func (ts *TicketService) PlanNetTunnelOpen(ctx context.Context, tenantID, agentID, refID, subject, mode string, target Target, ttlSeconds int) (*TunnelPlan, error) {
	ctx, span := ts.tracer.Start(ctx, "console.plan_net_tunnel_open")
	defer span.End()
	span.SetAttributes(
		attribute.String("vm.ref_id", refID),
		attribute.String("agent.id", agentID),
	)

	if target.IP == "" || target.Port == 0 {
		return nil, fmt.Errorf("target.ip and target.port are required")
	}
	if mode == "" {
		mode = "net"
	}
	return ts.plan(ctx, models.ActionNetTunnel, mode, tenantID, agentID, refID, subject, ttlSeconds, &target)
}

// ParseAgentTicket validates an agent ticket. Exposed for the tunnel
// broker's token checks in integration setups.
func (ts *TicketService) ParseAgentTicket(ticket string) (*AgentClaims, error) {
	claims := &AgentClaims{}
	_, err := jwt.ParseWithClaims(ticket, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.agentSecret, nil
	}, jwt.WithAudience("agent"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent ticket: %w", err)
	}
	return claims, nil
}
