package udpc

import (
	"testing"
	"time"

	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/wire"
)

func newTestRegistry(t *testing.T, auth []config.WorkerAuth) (*Registry, *int, *map[byte]int) {
	t.Helper()
	accepted := 0
	rejections := map[byte]int{}
	r := NewRegistry(auth, 45*time.Second, 30*time.Second,
		func() { accepted++ },
		func(_ string, status byte) { rejections[status]++ },
	)
	return r, &accepted, &rejections
}

func TestProcessStatusPacketAcceptsValidPacket(t *testing.T) {
	auth := []config.WorkerAuth{{ID: "worker-1", Key: "key-1"}}
	r, accepted, rejections := newTestRegistry(t, auth)

	frame := wire.StatusFrame{WorkerID: "worker-1", Name: "srv", Online: 5, Max: 20, Port: 5520, Version: "1.0"}
	packet := wire.EncodeStatusPacket([]byte("key-1"), time.Now().UnixMilli(), frame)

	ack := r.ProcessStatusPacket(packet, time.Now())
	decoded, err := wire.DecodeAck(ack)
	if err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if decoded.Status != wire.StatusOK {
		t.Fatalf("expected StatusOK, got %d", decoded.Status)
	}
	if *accepted != 1 {
		t.Fatalf("expected onAccepted to fire once, got %d", *accepted)
	}
	if len((*rejections)) != 0 {
		t.Fatalf("expected no rejections, got %v", *rejections)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 tracked worker, got %d", r.Len())
	}
}

func TestProcessStatusPacketRejectsUnknownID(t *testing.T) {
	auth := []config.WorkerAuth{{ID: "worker-1", Key: "key-1"}}
	r, _, rejections := newTestRegistry(t, auth)

	frame := wire.StatusFrame{WorkerID: "worker-unknown"}
	packet := wire.EncodeStatusPacket([]byte("some-key"), time.Now().UnixMilli(), frame)

	ack := r.ProcessStatusPacket(packet, time.Now())
	decoded, err := wire.DecodeAck(ack)
	if err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if decoded.Status != wire.StatusUnknownID {
		t.Fatalf("expected StatusUnknownID, got %d", decoded.Status)
	}
	if (*rejections)[wire.StatusUnknownID] != 1 {
		t.Fatalf("expected one unknown-id rejection, got %v", *rejections)
	}
}

func TestProcessStatusPacketRejectsBadHMAC(t *testing.T) {
	auth := []config.WorkerAuth{{ID: "worker-1", Key: "key-1"}}
	r, _, rejections := newTestRegistry(t, auth)

	frame := wire.StatusFrame{WorkerID: "worker-1"}
	packet := wire.EncodeStatusPacket([]byte("wrong-key"), time.Now().UnixMilli(), frame)

	ack := r.ProcessStatusPacket(packet, time.Now())
	decoded, _ := wire.DecodeAck(ack)
	if decoded.Status != wire.StatusBadHMAC {
		t.Fatalf("expected StatusBadHMAC, got %d", decoded.Status)
	}
	if (*rejections)[wire.StatusBadHMAC] != 1 {
		t.Fatalf("expected one bad-hmac rejection, got %v", *rejections)
	}
}

func TestProcessStatusPacketRejectsStaleTimestamp(t *testing.T) {
	auth := []config.WorkerAuth{{ID: "worker-1", Key: "key-1"}}
	r, _, rejections := newTestRegistry(t, auth)

	frame := wire.StatusFrame{WorkerID: "worker-1"}
	old := time.Now().Add(-time.Minute).UnixMilli()
	packet := wire.EncodeStatusPacket([]byte("key-1"), old, frame)

	ack := r.ProcessStatusPacket(packet, time.Now())
	decoded, _ := wire.DecodeAck(ack)
	if decoded.Status != wire.StatusStale {
		t.Fatalf("expected StatusStale, got %d", decoded.Status)
	}
	if (*rejections)[wire.StatusStale] != 1 {
		t.Fatalf("expected one stale rejection, got %v", *rejections)
	}
}

func TestWildcardWorkerIDMatching(t *testing.T) {
	auth := []config.WorkerAuth{{ID: "fleet-*", Key: "shared-key"}}
	r, accepted, _ := newTestRegistry(t, auth)

	frame := wire.StatusFrame{WorkerID: "fleet-eu-1"}
	packet := wire.EncodeStatusPacket([]byte("shared-key"), time.Now().UnixMilli(), frame)

	ack := r.ProcessStatusPacket(packet, time.Now())
	decoded, _ := wire.DecodeAck(ack)
	if decoded.Status != wire.StatusOK {
		t.Fatalf("expected wildcard-matched worker to be accepted, got status %d", decoded.Status)
	}
	if *accepted != 1 {
		t.Fatalf("expected onAccepted to fire, got %d", *accepted)
	}
}

func TestGetAggregateExcludesTimedOutWorkers(t *testing.T) {
	auth := []config.WorkerAuth{{ID: "worker-1", Key: "key-1"}}
	r := NewRegistry(auth, 10*time.Millisecond, 30*time.Second, nil, nil)

	frame := wire.StatusFrame{WorkerID: "worker-1", Online: 4, Max: 10}
	packet := wire.EncodeStatusPacket([]byte("key-1"), time.Now().UnixMilli(), frame)
	r.ProcessStatusPacket(packet, time.Now())

	time.Sleep(20 * time.Millisecond)

	agg, err := r.GetAggregate(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.TotalOnline != 0 || len(agg.RemoteServers) != 0 {
		t.Fatalf("expected timed-out worker to be excluded, got %+v", agg)
	}
}

func TestAckAlwaysSignedWithFirstConfiguredKey(t *testing.T) {
	auth := []config.WorkerAuth{
		{ID: "worker-1", Key: "first-key"},
		{ID: "worker-2", Key: "second-key"},
	}
	r, _, _ := newTestRegistry(t, auth)

	frame := wire.StatusFrame{WorkerID: "worker-2"}
	packet := wire.EncodeStatusPacket([]byte("second-key"), time.Now().UnixMilli(), frame)
	ack := r.ProcessStatusPacket(packet, time.Now())

	decoded, err := wire.DecodeAck(ack)
	if err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if !decoded.VerifyHMAC([]byte("first-key")) {
		t.Fatalf("expected ack to be signed with the first configured worker's key, not the matched worker's own key")
	}
	if decoded.VerifyHMAC([]byte("second-key")) {
		t.Fatalf("ack unexpectedly verified against the matched worker's own key")
	}
}
