package authkeep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func collectEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()

	select {
	case event := <-sink.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func TestEngineEmitsLoginAuditEvents(t *testing.T) {
	_, client := newTestRedis(t)

	users := newMockUserProvider()
	users.addUser(t, "dana@example.com", "tr0ub4dor&3 horse")

	sink := NewChannelSink(64)
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithUserProvider(users).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := engine.Login(testContext(), "dana@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected failed login, got %v", err)
	}

	event := collectEvent(t, sink)
	if event.EventType != auditEventLoginFailure {
		t.Errorf("event type = %q, want %q", event.EventType, auditEventLoginFailure)
	}
	if event.Success {
		t.Error("failure event marked successful")
	}
	if event.Error != string(auditErrInvalidCredentials) {
		t.Errorf("error code = %q, want %q", event.Error, auditErrInvalidCredentials)
	}
	if event.IP != testClientIP {
		t.Errorf("ip = %q, want %q", event.IP, testClientIP)
	}
	if event.Metadata["disposition"] != "bad_password" {
		t.Errorf("disposition = %q, want bad_password", event.Metadata["disposition"])
	}

	if _, err := engine.Login(testContext(), "dana@example.com", "tr0ub4dor&3 horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	event = collectEvent(t, sink)
	if event.EventType != auditEventLoginSuccess || !event.Success {
		t.Errorf("got %q success=%v, want successful %q", event.EventType, event.Success, auditEventLoginSuccess)
	}
	if event.UserID == "" || event.SessionID == "" {
		t.Error("success event missing identity binding")
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	sink := blockingSink{release: blocked}

	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest
	// must be dropped rather than block the caller.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "x"})
	}
	close(blocked)
	d.Close()

	if d.Dropped() == 0 {
		t.Error("expected dropped events with a full buffer")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestAuditDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: false}, sink)

	for i := 0; i < 4; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "drain_me"})
	}
	d.Close()

	for i := 0; i < 4; i++ {
		select {
		case <-sink.Events():
		default:
			t.Fatalf("event %d was not drained before Close returned", i)
		}
	}

	// Emitting after Close is a silent no-op.
	d.Emit(context.Background(), AuditEvent{EventType: "late"})
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EventType: "login_success",
		UserID:    "user-1",
		Success:   true,
	})

	var decoded AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal written line: %v", err)
	}
	if decoded.EventType != "login_success" || decoded.UserID != "user-1" || !decoded.Success {
		t.Errorf("decoded = %+v", decoded)
	}
}
