package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccall48/lorawan-analyzer/internal/broadcast"
	"github.com/ccall48/lorawan-analyzer/internal/models"
)

type fakeNATS struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeNATS) snapshot() ([]string, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...), append([][]byte(nil), f.payloads...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestForwarderRepublishes(t *testing.T) {
	b := broadcast.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	nc := &fakeNATS{}
	f := New(nc, b, "analyzer", zerolog.Nop())
	f.Start()
	t.Cleanup(f.Stop)

	fcnt := uint32(5)
	b.PublishPacket(&models.ParsedPacket{
		Timestamp: time.Now(),
		GatewayID: "0102030405060708",
		Type:      models.PacketData,
		DevAddr:   "26011AAB",
		Operator:  "The Things Network",
		FCnt:      &fcnt,
	})
	b.PublishCs(&models.CsPacket{
		Timestamp: time.Now(),
		Type:      models.PacketData,
		DevEUI:    "70B3D57ED0001234",
		Operator:  "parking",
	})

	waitFor(t, func() bool {
		subjects, _ := nc.snapshot()
		return len(subjects) >= 2
	})

	subjects, payloads := nc.snapshot()
	assert.Contains(t, subjects, "analyzer.packets.data")
	assert.Contains(t, subjects, "analyzer.cs.data")

	for i, subject := range subjects {
		var lp models.LivePacket
		require.NoError(t, json.Unmarshal(payloads[i], &lp))
		if subject == "analyzer.cs.data" {
			assert.Equal(t, "chirpstack", lp.Source)
			assert.Equal(t, "70B3D57ED0001234", lp.DevEUI)
		} else {
			assert.Equal(t, "26011AAB", lp.DevAddr)
		}
	}
}

func TestForwarderStopsOnUnsubscribe(t *testing.T) {
	b := broadcast.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	nc := &fakeNATS{}
	f := New(nc, b, "analyzer", zerolog.Nop())
	f.Start()
	f.Stop()

	b.PublishPacket(&models.ParsedPacket{
		Timestamp: time.Now(),
		GatewayID: "0102030405060708",
		Type:      models.PacketData,
	})

	time.Sleep(100 * time.Millisecond)
	subjects, _ := nc.snapshot()
	assert.Empty(t, subjects)
}
