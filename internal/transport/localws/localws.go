// Package localws implements a minimal local/CLI driving Transport over a
// single gorilla/websocket connection, registered under transport name
// "local". Unlike telegram/discord it serves one connection at a time: a
// new connection replaces any previous one.
package localws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// inboundFrame is the JSON message a client connection sends to drive a turn.
type inboundFrame struct {
	Text     string `json:"text"`
	ThreadID string `json:"threadId,omitempty"`
}

// outboundFrame is the JSON message sent back for a reply or a processing
// update.
type outboundFrame struct {
	Type string `json:"type"` // "reply" | "processing"
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

const localSourceID = "local"

// Config controls the embedded HTTP server this transport listens on.
type Config struct {
	Addr         string // e.g. ":8765"
	AllowOrigins []string
}

// Transport accepts a single local websocket connection and exchanges
// inboundFrame/outboundFrame JSON messages with it.
type Transport struct {
	cfg      Config
	onText   func(sourceID, text, threadID string)
	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	nextMsgID int
}

// New creates a local websocket transport. onText is invoked for every
// inbound frame received on the active connection.
func New(cfg Config, onText func(sourceID, text, threadID string)) *Transport {
	t := &Transport{cfg: cfg, onText: onText}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) Name() string { return "local" }

func (t *Transport) checkOrigin(r *http.Request) bool {
	if len(t.cfg.AllowOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range t.cfg.AllowOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func (t *Transport) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleUpgrade)
	t.server = &http.Server{Addr: t.cfg.Addr, Handler: mux}

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("localws: server exited", "error", err)
		}
	}()
	slog.Info("localws transport listening", "addr", t.cfg.Addr)
	return nil
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("localws: upgrade failed", "error", err)
		return
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Warn("localws: malformed frame dropped", "error", err)
			continue
		}
		if frame.Text == "" {
			continue
		}
		t.onText(localSourceID, frame.Text, frame.ThreadID)
	}
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
	if t.server != nil {
		return t.server.Shutdown(ctx)
	}
	return nil
}

func (t *Transport) send(frame outboundFrame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("localws: no active connection")
	}
	return conn.WriteJSON(frame)
}

// SendResponse ignores sourceID (there is only ever one active connection)
// and writes a reply frame.
func (t *Transport) SendResponse(_ string, text string) error {
	return t.send(outboundFrame{Type: "reply", Text: text})
}

// CreateProcessingMessage emits a processing frame and returns a locally
// generated id for later updates (the client correlates by id, not by any
// server-persisted message).
func (t *Transport) CreateProcessingMessage(_ string, text string) (string, error) {
	t.mu.Lock()
	t.nextMsgID++
	id := fmt.Sprintf("%d", t.nextMsgID)
	t.mu.Unlock()
	if err := t.send(outboundFrame{Type: "processing", ID: id, Text: text}); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateProcessingMessage emits another processing frame carrying the same id.
func (t *Transport) UpdateProcessingMessage(_ string, id string, text string) error {
	return t.send(outboundFrame{Type: "processing", ID: id, Text: text})
}
