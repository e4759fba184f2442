package chatsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// testBase anchors message timestamps so ordering assertions are stable.
var testBase = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return testBase.Add(time.Duration(sec) * time.Second)
}

func serverMessage(id, convID, senderID int64, senderName string, sec int, content string) Message {
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		SenderName:     senderName,
		Content:        content,
		CreatedAt:      at(sec),
	}
}

// jsonDecode reads a request body into out.
func jsonDecode(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

// writeOK writes the {ok,data,error} envelope with data.
func writeOK(w http.ResponseWriter, data any) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": json.RawMessage(raw)})
}

// writeAPIError writes a non-OK envelope with error detail.
func writeAPIError(w http.ResponseWriter, code, msg string) {
	json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": map[string]string{"code": code, "message": msg},
	})
}

// newTestClient starts an HTTP server around handler and returns a Client
// pointed at it.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token")
}

// wsServer is an in-process channel endpoint. Frames sent by the client land
// on inbound; pushEvent writes frames to the client.
type wsServer struct {
	URL     string
	inbound chan channelEnvelope

	mu    sync.Mutex
	conns []*websocket.Conn
	ready chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		inbound: make(chan channelEnvelope, 16),
		ready:   make(chan *websocket.Conn, 4),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.mu.Unlock()
		ws.ready <- conn

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env channelEnvelope
			if json.Unmarshal(data, &env) == nil {
				ws.inbound <- env
			}
		}
	}))
	t.Cleanup(func() {
		ws.mu.Lock()
		for _, c := range ws.conns {
			c.Close(websocket.StatusNormalClosure, "test done")
		}
		ws.mu.Unlock()
		srv.Close()
	})
	ws.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ws
}

// waitConn blocks until a client connection is accepted.
func (ws *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ws.ready:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel connection")
		return nil
	}
}

// pushEvent writes one enveloped event to the client.
func (ws *wsServer) pushEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, _ := json.Marshal(channelEnvelope{Type: eventType, Payload: raw})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("push event: %v", err)
	}
}

// recvFrame waits for a frame from the client.
func (ws *wsServer) recvFrame(t *testing.T) channelEnvelope {
	t.Helper()
	select {
	case env := <-ws.inbound:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return channelEnvelope{}
	}
}
