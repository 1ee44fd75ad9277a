package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/scribepad/scribepad/backend/internal/docs"
	"github.com/scribepad/scribepad/backend/internal/journal"
	"github.com/scribepad/scribepad/backend/internal/syncing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close() //nolint:errcheck
	})
	if err := db.AutoMigrate(&docs.Document{}, &journal.ChangeRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := docs.NewStore(docs.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	changeJournal, err := journal.New(journal.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to build journal: %v", err)
	}
	registry := NewRegistry(nil)
	coordinator, err := syncing.NewCoordinator(syncing.CoordinatorConfig{
		Store:     store,
		Journal:   changeJournal,
		Publisher: registry,
	})
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Coordinator: coordinator,
		Registry:    registry,
		IDProvider:  NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func dialWebsocket(t *testing.T, httpServer *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	if response != nil {
		response.Body.Close() //nolint:errcheck
	}
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck
	})
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("undecodable websocket message: %v", err)
	}
	return decoded
}

func writeMessage(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		t.Fatalf("failed to write websocket message: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	response, err := http.Get(httpServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("failed to call health endpoint: %v", err)
	}
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
}

func TestWebsocketFetchListOnEmptyStore(t *testing.T) {
	handler := newTestHandler(t)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	conn := dialWebsocket(t, httpServer)
	writeMessage(t, conn, `{"msgType":"fetchList","callbackId":"cb-1"}`)

	response := readMessage(t, conn)
	if response["msgType"] != "fetchList" {
		t.Fatalf("expected fetchList response, got %v", response)
	}
	if response["callbackId"] != "cb-1" {
		t.Fatalf("callback id must be echoed, got %v", response["callbackId"])
	}
	list, ok := response["list"].([]any)
	if !ok || len(list) != 0 {
		t.Fatalf("expected empty list, got %v", response["list"])
	}
	if _, present := response["lastTimestamp"]; present {
		t.Fatalf("empty journal must omit lastTimestamp, got %v", response["lastTimestamp"])
	}
}

func TestWebsocketChangeEchoAndBroadcast(t *testing.T) {
	handler := newTestHandler(t)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	editor := dialWebsocket(t, httpServer)
	observer := dialWebsocket(t, httpServer)
	// Make sure both sessions are registered before publishing.
	writeMessage(t, observer, `{"msgType":"fetchList"}`)
	readMessage(t, observer)

	writeMessage(t, editor, `{"msgType":"change","callbackId":"cb-2",`+
		`"change":{"type":"create","timestamp":1,"document":"A","title":"Doc A","content":"hello"}}`)

	echo := readMessage(t, editor)
	if echo["msgType"] != "change" || echo["callbackId"] != "cb-2" {
		t.Fatalf("unexpected echo: %v", echo)
	}

	broadcast := readMessage(t, observer)
	if broadcast["msgType"] != "change" {
		t.Fatalf("unexpected broadcast: %v", broadcast)
	}
	if _, present := broadcast["callbackId"]; present {
		t.Fatalf("broadcast must strip the callback id: %v", broadcast)
	}
	change, ok := broadcast["change"].(map[string]any)
	if !ok || change["document"] != "A" {
		t.Fatalf("unexpected broadcast change payload: %v", broadcast["change"])
	}
}

func TestWebsocketOfflineSyncRefreshesAndAcks(t *testing.T) {
	handler := newTestHandler(t)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	conn := dialWebsocket(t, httpServer)
	writeMessage(t, conn, `{"msgType":"offlineChangeSync","callbackId":"cb-3","lastTimestamp":0,`+
		`"changes":[{"type":"create","timestamp":5,"document":"A","title":"Doc A","content":"offline body"}]}`)

	var sawRefresh, sawAck bool
	for i := 0; i < 2; i++ {
		message := readMessage(t, conn)
		switch message["msgType"] {
		case "fetchList":
			sawRefresh = true
			list, ok := message["list"].([]any)
			if !ok || len(list) != 1 {
				t.Fatalf("expected refreshed list with 1 document, got %v", message["list"])
			}
			if message["lastTimestamp"] != float64(5) {
				t.Fatalf("expected lastTimestamp 5, got %v", message["lastTimestamp"])
			}
		case "offlineChangeSync":
			sawAck = true
			if message["success"] != true {
				t.Fatalf("expected successful ack, got %v", message)
			}
			if message["callbackId"] != "cb-3" {
				t.Fatalf("ack must echo the callback id, got %v", message)
			}
		default:
			t.Fatalf("unexpected message: %v", message)
		}
	}
	if !sawRefresh || !sawAck {
		t.Fatalf("expected refresh and ack, got refresh=%v ack=%v", sawRefresh, sawAck)
	}
}
