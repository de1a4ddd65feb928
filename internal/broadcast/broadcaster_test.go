package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

func testBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	b := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b
}

func dataPacket(gatewayID, devAddr string) *models.ParsedPacket {
	return &models.ParsedPacket{
		Timestamp:       time.Now(),
		GatewayID:       gatewayID,
		Type:            models.PacketData,
		DevAddr:         devAddr,
		Operator:        "The Things Network",
		Frequency:       868100000,
		SpreadingFactor: 7,
		Bandwidth:       125000,
		RSSI:            -90,
		SNR:             7.5,
		PayloadSize:     16,
		AirtimeUS:       51456,
	}
}

func recv(t *testing.T, sub *Subscriber) models.LivePacket {
	t.Helper()
	select {
	case lp := <-sub.Packets():
		return lp
	case <-time.After(time.Second):
		t.Fatal("expected a live packet, got none")
		return models.LivePacket{}
	}
}

func assertNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case lp := <-sub.Packets():
		t.Fatalf("expected no packet, got %+v", lp)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	b := testBroadcaster(t)
	sub := b.Subscribe(Filter{})
	defer b.Unsubscribe(sub)

	b.PublishPacket(dataPacket("aa555a0000000000", "26011AAB"))

	lp := recv(t, sub)
	assert.Equal(t, "data", lp.Type)
	assert.Equal(t, "26011AAB", lp.DevAddr)
	assert.Equal(t, "SF7BW125", lp.DataRate)
	assert.InDelta(t, 868.1, lp.Frequency, 0.0001)
	assert.InDelta(t, 51.456, lp.AirtimeMS, 0.001)
	assert.Empty(t, lp.Source)
}

func TestSourceModeRouting(t *testing.T) {
	b := testBroadcaster(t)
	gwSub := b.Subscribe(Filter{})
	csSub := b.Subscribe(Filter{SourceMode: SourceChirpstack})
	defer b.Unsubscribe(gwSub)
	defer b.Unsubscribe(csSub)

	b.PublishPacket(dataPacket("aa555a0000000000", "26011AAB"))
	recv(t, gwSub)
	assertNothing(t, csSub)

	b.PublishCs(&models.CsPacket{
		Timestamp: time.Now(),
		Type:      models.PacketData,
		DevEUI:    "70B3D57ED0001234",
		DevAddr:   "26011AAB",
		Operator:  "demo-app",
	})
	lp := recv(t, csSub)
	assert.Equal(t, models.LiveSourceChirpstack, lp.Source)
	assert.Equal(t, "70B3D57ED0001234", lp.DevEUI)
	assertNothing(t, gwSub)
}

func TestDownlinkRoutedToCsSubscribers(t *testing.T) {
	b := testBroadcaster(t)
	b.SetCsDevice(&models.CsDevice{
		DevEUI:     "70B3D57ED0001234",
		DevAddr:    "26011AAB",
		DeviceName: "parking-sensor-7",
	})

	gwSub := b.Subscribe(Filter{})
	csSub := b.Subscribe(Filter{SourceMode: SourceChirpstack})
	defer b.Unsubscribe(gwSub)
	defer b.Unsubscribe(csSub)

	down := dataPacket("aa555a0000000000", "26011AAB")
	down.Type = models.PacketDownlink
	b.PublishPacket(down)

	// the gateway view keeps its shape
	gwLP := recv(t, gwSub)
	assert.Empty(t, gwLP.DevEUI)
	assert.Empty(t, gwLP.Source)

	// the application view gains identity from the reverse index
	csLP := recv(t, csSub)
	assert.Equal(t, "70B3D57ED0001234", csLP.DevEUI)
	assert.Equal(t, "parking-sensor-7", csLP.DeviceName)
	assert.Equal(t, models.LiveSourceChirpstack, csLP.Source)

	// a downlink for an unknown address stays off the application feed
	unknown := dataPacket("aa555a0000000000", "DEADBEEF")
	unknown.Type = models.PacketDownlink
	b.PublishPacket(unknown)
	recv(t, gwSub)
	assertNothing(t, csSub)
}

func TestGatewayNameFromCache(t *testing.T) {
	b := testBroadcaster(t)
	b.SetGateway(&models.Gateway{GatewayID: "aa555a0000000000", Name: "roof-west", Alias: "west", GroupName: "campus"})

	sub := b.Subscribe(Filter{Search: "campus"})
	defer b.Unsubscribe(sub)

	b.PublishPacket(dataPacket("aa555a0000000000", "26011AAB"))

	lp := recv(t, sub)
	assert.Equal(t, "roof-west", lp.GatewayName)
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := testBroadcaster(t)
	sub := b.Subscribe(Filter{})

	// never read: once the buffer is full the next send drops the client
	for i := 0; i < subscriberBuffer+16; i++ {
		b.PublishPacket(dataPacket("aa555a0000000000", "26011AAB"))
	}

	select {
	case <-sub.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := testBroadcaster(t)
	sub := b.Subscribe(Filter{})

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	select {
	case <-sub.Closed():
	default:
		t.Fatal("Closed must fire after Unsubscribe")
	}

	require.NotPanics(t, func() { b.PublishPacket(dataPacket("gw", "26011AAB")) })
}
