package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coherentd/lockd/internal/protocol"
)

func TestNilPublisherIsANoOp(t *testing.T) {
	var p *Publisher
	// Must not panic: a nil Publisher is the disabled/off-by-default state.
	p.Publish(Event{Kind: EventAcquireGranted, LockID: 1})
	p.Close(context.Background())
}

func TestEventMarshalsExpectedFields(t *testing.T) {
	evt := Event{
		Kind:      EventRevoke,
		LockID:    protocol.LockID(42),
		Client:    protocol.ClientID("alice"),
		XID:       protocol.XID(7),
		Timestamp: 1234,
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}

	if decoded["kind"] != "revoke" {
		t.Errorf("expected kind=revoke, got %v", decoded["kind"])
	}
	if decoded["lock_id"].(float64) != 42 {
		t.Errorf("expected lock_id=42, got %v", decoded["lock_id"])
	}
	if decoded["client"] != "alice" {
		t.Errorf("expected client=alice, got %v", decoded["client"])
	}
}
