package server

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func newDetachedSession(id string) *Session {
	return newSession(id, nil, zap.NewNop())
}

func receivedPayload(t *testing.T, session *Session) []byte {
	t.Helper()
	select {
	case data := <-session.send:
		return data
	default:
		return nil
	}
}

func TestPublishReachesAllSessionsExceptExcluded(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	first := newDetachedSession("session-1")
	second := newDetachedSession("session-2")
	third := newDetachedSession("session-3")
	registry.add(first)
	registry.add(second)
	registry.add(third)

	registry.Publish(map[string]string{"msgType": "change"}, "session-2")

	if receivedPayload(t, first) == nil {
		t.Fatalf("session-1 must receive the broadcast")
	}
	if receivedPayload(t, second) != nil {
		t.Fatalf("excluded session must not receive the broadcast")
	}
	if receivedPayload(t, third) == nil {
		t.Fatalf("session-3 must receive the broadcast")
	}
}

func TestPublishEncodesMessageAsJSON(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	session := newDetachedSession("session-1")
	registry.add(session)

	registry.Publish(map[string]any{"msgType": "fetchList", "list": []string{}})

	data := receivedPayload(t, session)
	if data == nil {
		t.Fatalf("expected a delivered payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("payload must be valid JSON: %v", err)
	}
	if decoded["msgType"] != "fetchList" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestRemoveDropsSessionFromFanOut(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	session := newDetachedSession("session-1")
	registry.add(session)
	if registry.Count() != 1 {
		t.Fatalf("expected 1 live session, got %d", registry.Count())
	}

	registry.remove("session-1")
	if registry.Count() != 0 {
		t.Fatalf("expected 0 live sessions, got %d", registry.Count())
	}

	registry.Publish(map[string]string{"msgType": "change"})
	if receivedPayload(t, session) != nil {
		t.Fatalf("removed session must not receive broadcasts")
	}
}

func TestSessionSendFailsWhenBufferFull(t *testing.T) {
	session := newDetachedSession("session-1")
	for i := 0; i < sendBufferSize; i++ {
		if err := session.enqueue([]byte("x")); err != nil {
			t.Fatalf("unexpected enqueue error at %d: %v", i, err)
		}
	}
	if err := session.enqueue([]byte("overflow")); err == nil {
		t.Fatalf("expected error when the send buffer is full")
	}
}

func TestSessionSendFailsAfterClose(t *testing.T) {
	session := newDetachedSession("session-1")
	session.close()
	if err := session.Send(map[string]string{"msgType": "change"}); err == nil {
		t.Fatalf("expected error for closed session")
	}
}
