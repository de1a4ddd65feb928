package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	ttn     = "The Things Network"
	devEUI  = "70B3D57ED0001234"
	joinEUI = "70B3D57ED0000001"
	devAddr = "26011AAB"
)

func newTestTracker(start time.Time) (*Tracker, *time.Time) {
	clock := start
	t := NewTracker(216*time.Hour, zerolog.Nop())
	t.now = func() time.Time { return clock }
	return t, &clock
}

func TestJoinThenUplinkBinds(t *testing.T) {
	tr, clock := newTestTracker(time.Unix(1700000000, 0))

	token := tr.RecordJoin(devEUI, joinEUI, ttn)
	if token == "" {
		t.Fatal("expected a session token")
	}

	*clock = clock.Add(10 * time.Second)
	id, eui := tr.Resolve(devAddr, ttn)
	if id != token {
		t.Fatalf("Resolve returned session %q, want %q", id, token)
	}
	if eui != devEUI {
		t.Fatalf("Resolve returned dev EUI %q, want %q", eui, devEUI)
	}

	// subsequent uplinks hit the bound path
	id2, eui2 := tr.Resolve(devAddr, ttn)
	if id2 != token || eui2 != devEUI {
		t.Fatalf("second Resolve = (%q, %q), want (%q, %q)", id2, eui2, token, devEUI)
	}

	pending, bound := tr.Stats()
	if pending != 0 || bound != 1 {
		t.Fatalf("Stats = (%d, %d), want (0, 1)", pending, bound)
	}
}

func TestAmbiguousJoinsDoNotBind(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1700000000, 0))

	tr.RecordJoin("AAAAAAAAAAAAAAAA", joinEUI, ttn)
	tr.RecordJoin("BBBBBBBBBBBBBBBB", joinEUI, ttn)

	id, eui := tr.Resolve(devAddr, ttn)
	if id != "" || eui != "" {
		t.Fatalf("ambiguous Resolve = (%q, %q), want empty", id, eui)
	}

	// both joins stay pending for a later, unambiguous uplink
	pending, bound := tr.Stats()
	if pending != 2 || bound != 0 {
		t.Fatalf("Stats = (%d, %d), want (2, 0)", pending, bound)
	}
}

func TestOperatorMismatchDoesNotBind(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1700000000, 0))

	tr.RecordJoin(devEUI, joinEUI, ttn)
	if id, _ := tr.Resolve("48000001", "Helium"); id != "" {
		t.Fatalf("cross-operator Resolve bound session %q", id)
	}
}

func TestStaleJoinDoesNotBind(t *testing.T) {
	tr, clock := newTestTracker(time.Unix(1700000000, 0))

	tr.RecordJoin(devEUI, joinEUI, ttn)
	*clock = clock.Add(joinBindWindow + time.Minute)
	if id, _ := tr.Resolve(devAddr, ttn); id != "" {
		t.Fatalf("stale join bound session %q", id)
	}
}

func TestRejoinReplacesPendingToken(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1700000000, 0))

	first := tr.RecordJoin(devEUI, joinEUI, ttn)
	second := tr.RecordJoin(devEUI, joinEUI, ttn)
	if first == second {
		t.Fatal("rejoin should mint a new token")
	}

	id, _ := tr.Resolve(devAddr, ttn)
	if id != second {
		t.Fatalf("Resolve = %q, want the rejoin token %q", id, second)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	tr, clock := newTestTracker(time.Unix(1700000000, 0))

	tr.RecordJoin(devEUI, joinEUI, ttn)
	tr.Resolve(devAddr, ttn)

	*clock = clock.Add(217 * time.Hour)
	tr.sweep()

	if _, ok := tr.Lookup(devAddr); ok {
		t.Fatal("idle session survived the sweep")
	}
	pending, bound := tr.Stats()
	if pending != 0 || bound != 0 {
		t.Fatalf("Stats = (%d, %d), want (0, 0)", pending, bound)
	}
}

func TestSweepKeepsActiveSessions(t *testing.T) {
	tr, clock := newTestTracker(time.Unix(1700000000, 0))

	tr.RecordJoin(devEUI, joinEUI, ttn)
	tr.Resolve(devAddr, ttn)

	*clock = clock.Add(100 * time.Hour)
	tr.Resolve(devAddr, ttn) // refreshes last-seen
	*clock = clock.Add(200 * time.Hour)
	tr.sweep()

	if _, ok := tr.Lookup(devAddr); !ok {
		t.Fatal("active session was evicted")
	}
}
