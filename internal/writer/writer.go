// Package writer implements the batched persistence stage. Parsed rows
// from the pipeline are buffered per stream and flushed as multi-row
// inserts; gateway and device sightings are upserted alongside and fan
// back into the broadcaster caches.
package writer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
	"github.com/ccall48/lorawan-analyzer/internal/telemetry"
)

const (
	writeTimeout = 10 * time.Second

	// repeat sightings of one gateway are collapsed to this rate; the
	// metadata they carry lands on the next pass anyway
	gatewayUpsertThrottle = 30 * time.Second
)

// Writer owns the two persistence streams and the metadata upserts. The
// pipeline worker is the only producer; each stream has one consumer
// goroutine. Stop must only be called after the producer has stopped.
type Writer struct {
	store storage.Store
	log   zerolog.Logger

	packets   *batcher[*models.ParsedPacket]
	csPackets *batcher[*models.CsPacket]

	onGateway  func(*models.Gateway)
	onCsDevice func(*models.CsDevice)

	// touched only by the pipeline worker, no locking
	lastGatewayUpsert map[string]time.Time
}

// New builds a Writer over the store. Hooks must be registered before
// Start.
func New(store storage.Store, cfg config.WriterConfig, log zerolog.Logger) *Writer {
	log = log.With().Str("component", "writer").Logger()

	w := &Writer{
		store:             store,
		log:               log,
		lastGatewayUpsert: make(map[string]time.Time),
	}
	w.packets = newBatcher("packets", cfg.BatchSize, time.Duration(cfg.FlushInterval), w.flushPackets, log)
	w.csPackets = newBatcher("cs_packets", cfg.BatchSize, time.Duration(cfg.FlushInterval), w.flushCsPackets, log)
	return w
}

// OnGateway registers the hook invoked with every upserted gateway row.
func (w *Writer) OnGateway(fn func(*models.Gateway)) { w.onGateway = fn }

// OnCsDevice registers the hook invoked with every upserted device row.
func (w *Writer) OnCsDevice(fn func(*models.CsDevice)) { w.onCsDevice = fn }

// Start launches one consumer goroutine per stream.
func (w *Writer) Start() {
	go w.packets.run()
	go w.csPackets.run()
}

// Stop closes both streams and waits for the drains to finish or the
// context to expire.
func (w *Writer) Stop(ctx context.Context) error {
	close(w.packets.ch)
	close(w.csPackets.ch)

	for _, done := range []chan struct{}{w.packets.done, w.csPackets.done} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// EnqueuePacket queues a gateway-stream row for the next flush.
func (w *Writer) EnqueuePacket(p *models.ParsedPacket) {
	w.packets.enqueue(p)
}

// EnqueueCsPacket queues an application-stream row for the next flush.
func (w *Writer) EnqueueCsPacket(p *models.CsPacket) {
	w.csPackets.enqueue(p)
}

func (w *Writer) flushPackets(batch []*models.ParsedPacket) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return w.store.InsertPackets(ctx, batch)
}

func (w *Writer) flushCsPackets(batch []*models.CsPacket) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return w.store.InsertCsPackets(ctx, batch)
}

// UpsertGateway records a gateway sighting and refreshes the broadcaster
// cache with the resulting row. Repeat sightings of the same gateway are
// collapsed to one store round-trip per throttle window; first sightings
// always go through.
func (w *Writer) UpsertGateway(up *models.GatewayUpsert) {
	if up == nil || up.GatewayID == "" {
		return
	}
	if last, ok := w.lastGatewayUpsert[up.GatewayID]; ok && time.Since(last) < gatewayUpsertThrottle {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	gw, err := w.store.UpsertGateway(ctx, up)
	if err != nil {
		telemetry.WriteErrors.WithLabelValues("gateways").Inc()
		w.log.Error().Err(err).Str("gateway", up.GatewayID).Msg("gateway upsert failed")
		return
	}
	w.lastGatewayUpsert[up.GatewayID] = time.Now()

	if w.onGateway != nil {
		w.onGateway(gw)
	}
}

// UpsertCsDevice records an application-bus sighting. Never throttled:
// the row's packet_count is incremented on every call.
func (w *Writer) UpsertCsDevice(up *models.CsDeviceUpsert) {
	if up == nil || up.DevEUI == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	dev, err := w.store.UpsertCsDevice(ctx, up)
	if err != nil {
		telemetry.WriteErrors.WithLabelValues("cs_devices").Inc()
		w.log.Error().Err(err).Str("dev_eui", up.DevEUI).Msg("cs device upsert failed")
		return
	}

	if w.onCsDevice != nil {
		w.onCsDevice(dev)
	}
}
