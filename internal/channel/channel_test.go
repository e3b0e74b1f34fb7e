package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_EmitsOpenedFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
	defer c.Close()

	ev := <-c.Events()
	if _, ok := ev.(Opened); !ok {
		t.Fatalf("expected Opened first, got %T", ev)
	}
	ev = <-c.Events()
	frame, ok := ev.(Frame)
	if !ok {
		t.Fatalf("expected Frame, got %T", ev)
	}
	if len(frame.Data) != 2 {
		t.Fatalf("expected 2-byte frame, got %d bytes", len(frame.Data))
	}
}

func TestReadLoop_ControlAndClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"interruption"}`))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
	defer c.Close()

	var got []Event
	for ev := range c.Events() {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("expected Opened, Control, Closed; got %d events", len(got))
	}
	ctrl, ok := got[1].(Control)
	if !ok {
		t.Fatalf("expected Control second, got %T", got[1])
	}
	if ctrl.Type != "interruption" {
		t.Fatalf("unexpected control type %q", ctrl.Type)
	}
	if _, ok := got[2].(Closed); !ok {
		t.Fatalf("expected Closed last, got %T", got[2])
	}
}

func TestSend_AfterCloseReturnsErrNotOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
	if err := c.Send([]byte{0x01}); err != nil {
		t.Fatalf("Send on open channel returned error: %v", err)
	}
	c.Close()
	c.Close()
	if err := c.Send([]byte{0x01}); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestDial_FailureIsConnectionError(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/convai", time.Second)
	if err == nil {
		t.Fatal("expected dial failure")
	}
}
