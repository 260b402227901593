package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	netpkg "net"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// wireFrame is the JSON envelope carried over the websocket connection,
// adapted from ws/server.go's kind-prefixed server packets to a structured
// JSON frame so FrameType/MessageID/BusinessTag survive the wire.
type wireFrame struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id,omitempty"`
	BusinessTag string `json:"business_tag,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// wsConn adapts a gobwas/ws connection to the Conn interface, serializing
// concurrent writes the way ws/server.go's writePump owns the socket alone.
type wsConn struct {
	conn  netpkg.Conn
	mu    sync.Mutex
}

func (c *wsConn) WriteFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.conn, ws.OpText, payload)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// AuthFunc resolves the userID and owned session IDs for an inbound
// connection request; the transport never chooses identity on its own.
type AuthFunc func(r *http.Request) (userID string, sessionIDs []string, err error)

// Transport owns the HTTP listener and per-connection read/write pumps,
// grounded on ws/server.go's handleWebSocket/readPump/writePump shape.
type Transport struct {
	gateway *Gateway
	auth    AuthFunc
	logger  zerolog.Logger
}

// NewTransport constructs a Transport bound to gateway.
func NewTransport(gateway *Gateway, auth AuthFunc, logger zerolog.Logger) *Transport {
	return &Transport{gateway: gateway, auth: auth, logger: logger}
}

// Mux builds the HTTP handler: /ws for upgrades, /health for liveness.
func (t *Transport) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, sessionIDs, err := t.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rawConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		t.logger.Error().Err(err).Msg("gateway: websocket upgrade failed")
		return
	}

	connectionID := uuid.NewString()
	conn := &wsConn{conn: rawConn}
	ctx := context.Background()

	t.gateway.OnConnect(ctx, userID, connectionID, conn, sessionIDs)
	go t.writePump(conn)
	go t.readPump(conn, userID, connectionID, sessionIDs)
}

func (t *Transport) writePump(conn *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		conn.mu.Lock()
		conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := wsutil.WriteServerMessage(conn.conn, ws.OpPing, nil)
		conn.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (t *Transport) readPump(conn *wsConn, userID, connectionID string, sessionIDs []string) {
	ctx := context.Background()
	defer func() {
		conn.Close()
		t.gateway.OnDisconnect(ctx, userID, connectionID, sessionIDs)
	}()

	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		data, _, err := wsutil.ReadClientData(conn.conn)
		if err != nil {
			return
		}
		conn.conn.SetReadDeadline(time.Now().Add(pongWait))

		var wf wireFrame
		if err := json.Unmarshal(data, &wf); err != nil {
			t.logger.Debug().Err(err).Msg("gateway: dropping malformed frame")
			continue
		}
		frame := Frame{
			Type: FrameType(wf.Type), MessageID: wf.MessageID,
			Payload: wf.Payload, BusinessTag: wf.BusinessTag,
		}
		if err := t.gateway.HandleFrame(ctx, userID, wf.SessionID, connectionID, frame); err != nil {
			t.logger.Warn().Err(err).Str("user_id", userID).Msg("gateway: frame handling failed")
		}
	}
}

// ErrUnauthorized is returned by an AuthFunc when the request carries no
// usable credential.
var ErrUnauthorized = fmt.Errorf("gateway: unauthorized")
