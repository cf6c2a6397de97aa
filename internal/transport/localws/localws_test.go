package localws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTransport_CheckOrigin(t *testing.T) {
	tr := New(Config{AllowOrigins: []string{"https://example.com"}}, func(string, string, string) {})

	allowed := httptest.NewRequest(http.MethodGet, "/ws", nil)
	allowed.Header.Set("Origin", "https://example.com")
	if !tr.checkOrigin(allowed) {
		t.Error("expected allow-listed origin accepted")
	}

	denied := httptest.NewRequest(http.MethodGet, "/ws", nil)
	denied.Header.Set("Origin", "https://evil.example")
	if tr.checkOrigin(denied) {
		t.Error("expected non-allow-listed origin rejected")
	}

	open := New(Config{}, func(string, string, string) {})
	if !open.checkOrigin(allowed) {
		t.Error("expected empty allow-list to accept any origin")
	}
}

func TestTransport_RoundTrip(t *testing.T) {
	received := make(chan string, 1)
	tr := New(Config{}, func(sourceID, text, _ string) {
		if sourceID != localSourceID {
			t.Errorf("expected source id %q, got %q", localSourceID, sourceID)
		}
		received <- text
	})

	srv := httptest.NewServer(http.HandlerFunc(tr.handleUpgrade))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let handleUpgrade register the connection

	if err := conn.WriteJSON(inboundFrame{Text: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("expected %q, got %q", "hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onText callback")
	}

	if err := tr.SendResponse("", "reply text"); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var out outboundFrame
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if out.Type != "reply" || out.Text != "reply text" {
		t.Fatalf("unexpected reply frame: %+v", out)
	}
}

func TestTransport_SendResponseWithNoConnection(t *testing.T) {
	tr := New(Config{}, func(string, string, string) {})
	if err := tr.SendResponse("", "hi"); err == nil {
		t.Error("expected error sending with no active connection")
	}
}

func TestTransport_StopClosesServer(t *testing.T) {
	tr := New(Config{Addr: ":0"}, func(string, string, string) {})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
