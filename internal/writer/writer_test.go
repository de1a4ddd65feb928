package writer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
)

// fakeStore implements only what the writer touches; anything else panics
// through the embedded nil interface.
type fakeStore struct {
	storage.Store
	gatewayUpserts []models.GatewayUpsert
	deviceUpserts  []models.CsDeviceUpsert
}

func (f *fakeStore) UpsertGateway(_ context.Context, up *models.GatewayUpsert) (*models.Gateway, error) {
	f.gatewayUpserts = append(f.gatewayUpserts, *up)
	return &models.Gateway{GatewayID: up.GatewayID}, nil
}

func (f *fakeStore) UpsertCsDevice(_ context.Context, up *models.CsDeviceUpsert) (*models.CsDevice, error) {
	f.deviceUpserts = append(f.deviceUpserts, *up)
	return &models.CsDevice{DevEUI: up.DevEUI, PacketCount: int64(len(f.deviceUpserts))}, nil
}

func newTestWriter(fs *fakeStore) *Writer {
	cfg := config.WriterConfig{BatchSize: 10, FlushInterval: config.Duration(time.Second)}
	return New(fs, cfg, zerolog.Nop())
}

func TestUpsertGatewayThrottled(t *testing.T) {
	fs := &fakeStore{}
	w := newTestWriter(fs)

	var refreshed []string
	w.OnGateway(func(g *models.Gateway) { refreshed = append(refreshed, g.GatewayID) })

	w.UpsertGateway(&models.GatewayUpsert{GatewayID: "aa555a0000000000"})
	w.UpsertGateway(&models.GatewayUpsert{GatewayID: "aa555a0000000000"})
	w.UpsertGateway(&models.GatewayUpsert{GatewayID: "bb555a0000000000"})

	// the repeat sighting inside the throttle window is collapsed
	assert.Len(t, fs.gatewayUpserts, 2)
	assert.Equal(t, []string{"aa555a0000000000", "bb555a0000000000"}, refreshed)
}

func TestUpsertCsDeviceNeverThrottled(t *testing.T) {
	fs := &fakeStore{}
	w := newTestWriter(fs)

	var counts []int64
	w.OnCsDevice(func(d *models.CsDevice) { counts = append(counts, d.PacketCount) })

	up := &models.CsDeviceUpsert{DevEUI: "70B3D57ED0001234", DeviceName: "sensor-1"}
	w.UpsertCsDevice(up)
	w.UpsertCsDevice(up)
	w.UpsertCsDevice(up)

	assert.Len(t, fs.deviceUpserts, 3)
	assert.Equal(t, []int64{1, 2, 3}, counts)
}

func TestUpsertIgnoresEmptyIDs(t *testing.T) {
	fs := &fakeStore{}
	w := newTestWriter(fs)

	w.UpsertGateway(&models.GatewayUpsert{})
	w.UpsertGateway(nil)
	w.UpsertCsDevice(&models.CsDeviceUpsert{})
	w.UpsertCsDevice(nil)

	assert.Empty(t, fs.gatewayUpserts)
	assert.Empty(t, fs.deviceUpserts)
}
