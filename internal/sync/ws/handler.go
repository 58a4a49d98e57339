package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"state-sync-plane/backend/internal/event"
	"state-sync-plane/backend/internal/hub"
)

// StateService is the slice of the state service the transport routes client
// frames into.
type StateService interface {
	SessionHeartbeat(ctx context.Context, accountID, sessionID string, thinking bool, origin *hub.Connection) error
	MachineHeartbeat(ctx context.Context, accountID, machineID string, origin *hub.Connection) error
	ReportUsage(ctx context.Context, accountID, sessionID string, promptTokens, completionTokens int64, origin *hub.Connection) error
}

// Handler upgrades sync connections. Handshake parameters come from the
// query string: exactly one of `token` (access JWT) or `key` (access key
// "id.secret"), plus `scope` (user|session|machine) with `session_id` or
// `machine_id` when the scope requires one. Invalid handshakes are rejected
// before the upgrade.
type Handler struct {
	auth     *Authenticator
	registry *hub.Registry
	svc      StateService
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler over the registry and state service.
func NewHandler(auth *Authenticator, registry *hub.Registry, svc StateService) *Handler {
	return &Handler{auth: auth, registry: registry, svc: svc}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	accountID, err := h.auth.Authenticate(r.Context(), query.Get("token"), query.Get("key"))
	if err != nil {
		status := http.StatusInternalServerError
		if err == ErrUnauthorized {
			status = http.StatusUnauthorized
		} else {
			log.Printf("ws: authenticate: %v", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	var conn *hub.Connection
	makeConn := func(sink hub.Sink) *hub.Connection {
		switch query.Get("scope") {
		case "user":
			return hub.NewUserConnection(accountID, sink)
		case "session":
			if sid := query.Get("session_id"); sid != "" {
				return hub.NewSessionConnection(accountID, sid, sink)
			}
		case "machine":
			if mid := query.Get("machine_id"); mid != "" {
				return hub.NewMachineConnection(accountID, mid, sink)
			}
		}
		return nil
	}
	// Validate the scope before upgrading so a bad handshake gets a plain
	// HTTP status instead of an immediate close.
	if makeConn(nil) == nil {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := newWSConn(wc)
	conn = makeConn(c)
	h.registry.Add(conn)
	log.Printf("ws: %s connection for account %s registered", conn.Scope, accountID)

	go c.writePump()
	h.readLoop(c, conn)

	h.registry.Remove(conn)
	c.close()
	log.Printf("ws: %s connection for account %s closed", conn.Scope, accountID)
}

// clientFrame is the closed set of frames a client may send. The type field
// mirrors the ephemeral event types.
type clientFrame struct {
	Type             string `json:"type"`
	ID               string `json:"id,omitempty"`
	MachineID        string `json:"machineId,omitempty"`
	Thinking         bool   `json:"thinking,omitempty"`
	SessionID        string `json:"sid,omitempty"`
	PromptTokens     int64  `json:"promptTokens,omitempty"`
	CompletionTokens int64  `json:"completionTokens,omitempty"`
}

func (h *Handler) readLoop(c *wsConn, conn *hub.Connection) {
	c.wc.SetReadDeadline(time.Now().Add(pongTimeout))
	c.wc.SetPongHandler(func(string) error {
		c.wc.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		op, payload, err := c.wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: read failed: %v", err)
			}
			return
		}
		if op != websocket.TextMessage {
			continue
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Printf("ws: malformed client frame (dropped): %v", err)
			continue
		}
		h.route(conn, frame)
	}
}

// route dispatches one client frame. Scope qualifiers on the connection win
// over frame fields so a session connection cannot heartbeat on behalf of
// another session.
func (h *Handler) route(conn *hub.Connection, frame clientFrame) {
	ctx := context.Background()
	switch frame.Type {
	case event.EphemeralSessionActivity:
		sessionID := conn.SessionID
		if sessionID == "" {
			sessionID = frame.ID
		}
		if err := h.svc.SessionHeartbeat(ctx, conn.AccountID, sessionID, frame.Thinking, conn); err != nil {
			log.Printf("ws: session heartbeat for %s rejected: %v", sessionID, err)
		}
	case event.EphemeralMachineActivity:
		machineID := conn.MachineID
		if machineID == "" {
			machineID = frame.MachineID
		}
		if err := h.svc.MachineHeartbeat(ctx, conn.AccountID, machineID, conn); err != nil {
			log.Printf("ws: machine heartbeat for %s rejected: %v", machineID, err)
		}
	case event.EphemeralUsage:
		sessionID := conn.SessionID
		if sessionID == "" {
			sessionID = frame.SessionID
		}
		if err := h.svc.ReportUsage(ctx, conn.AccountID, sessionID, frame.PromptTokens, frame.CompletionTokens, conn); err != nil {
			log.Printf("ws: usage report for %s rejected: %v", sessionID, err)
		}
	default:
		log.Printf("ws: unknown client frame type %q (dropped)", frame.Type)
	}
}
