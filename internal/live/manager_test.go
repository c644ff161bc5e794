package live

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("chat-1", "client-1", conn)

	if active := sm.lookup("chat-1", "client-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
	if n := sm.Count("chat-1"); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("chat-1", "client-1", conn)
	sm.Unregister("chat-1", "client-1", conn)

	if active := sm.lookup("chat-1", "client-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
	if n := sm.Count("chat-1"); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestSessionManager_UnregisterKeepsOtherTabs(t *testing.T) {
	sm := NewSessionManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	sm.Register("chat-1", "tab-1", conn1)
	sm.Register("chat-1", "tab-2", conn2)
	sm.Unregister("chat-1", "tab-1", conn1)

	if active := sm.lookup("chat-1", "tab-2"); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestSessionManager_UnregisterStaleConnIsIgnored(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("chat-1", "tab-1", conn)
	sm.Unregister("chat-1", "tab-1", &websocket.Conn{})

	if active := sm.lookup("chat-1", "tab-1"); active != conn {
		t.Errorf("stale unregister removed the current connection")
	}
}

func TestSessionManager_CloseUnknownSession(t *testing.T) {
	sm := NewSessionManager()
	sm.CloseSession("missing")
	if n := sm.Count("missing"); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register("chat-1", "tab-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.lookup("chat-1", "tab-"+strconv.Itoa(i))
		}
	}()

	wg.Wait()
	if n := sm.Count("chat-1"); n != 1000 {
		t.Errorf("Count = %d, want 1000", n)
	}
}
