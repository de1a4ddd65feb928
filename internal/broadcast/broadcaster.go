// Package broadcast fans parsed packets out to live-feed subscribers.
// Delivery is at-most-once: a subscriber whose buffer is full is dropped
// silently and the pipeline never waits on a slow client.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/telemetry"
)

const (
	subscriberBuffer = 256
	inboundBuffer    = 1024
)

// Subscriber is one live-feed client. Packets delivers rendered live
// packets; Closed fires when the broadcaster drops the subscriber.
type Subscriber struct {
	id     uint64
	filter Filter
	ch     chan models.LivePacket
	closed chan struct{}
}

// Packets is the subscriber's delivery channel. It is never closed; wait
// on Closed to learn about removal.
func (s *Subscriber) Packets() <-chan models.LivePacket { return s.ch }

// Closed fires once when the subscriber has been removed.
func (s *Subscriber) Closed() <-chan struct{} { return s.closed }

type gatewayMeta struct {
	Name  string
	Alias string
	Group string
}

type deviceMeta struct {
	DevEUI     string
	DevAddr    string
	DeviceName string
	AppName    string
}

type event struct {
	packet *models.ParsedPacket
	cs     *models.CsPacket
}

// Broadcaster owns the subscriber set and the two metadata caches. One
// goroutine (Run) performs all fan-out; Publish methods never block the
// pipeline.
type Broadcaster struct {
	log zerolog.Logger

	in chan event

	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	nextID atomic.Uint64

	// caches are written by the upsert path and read during fan-out;
	// critical sections hold the map update only
	cmu      sync.Mutex
	gateways map[string]gatewayMeta
	devices  map[string]deviceMeta
	byAddr   map[string]string
}

// New builds an idle broadcaster; call Run to start fan-out.
func New(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:      log.With().Str("component", "broadcast").Logger(),
		in:       make(chan event, inboundBuffer),
		subs:     make(map[uint64]*Subscriber),
		gateways: make(map[string]gatewayMeta),
		devices:  make(map[string]deviceMeta),
		byAddr:   make(map[string]string),
	}
}

// Run consumes the parsed-packet channel until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.in:
			if ev.packet != nil {
				b.fanOutPacket(ev.packet)
			} else if ev.cs != nil {
				b.fanOutCs(ev.cs)
			}
		}
	}
}

// PublishPacket hands a gateway-pipeline packet to the fan-out worker.
// The live feed is lossy: when the inbound buffer is full the packet is
// dropped rather than stalling the pipeline.
func (b *Broadcaster) PublishPacket(p *models.ParsedPacket) {
	select {
	case b.in <- event{packet: p}:
	default:
	}
}

// PublishCs hands an application-bus packet to the fan-out worker.
func (b *Broadcaster) PublishCs(p *models.CsPacket) {
	select {
	case b.in <- event{cs: p}:
	default:
	}
}

// Subscribe registers a live-feed client.
func (b *Broadcaster) Subscribe(f Filter) *Subscriber {
	sub := &Subscriber{
		id:     b.nextID.Add(1),
		filter: f,
		ch:     make(chan models.LivePacket, subscriberBuffer),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	telemetry.LiveSubscribers.Inc()
	return sub
}

// Unsubscribe removes a client. Safe to call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
		close(sub.closed)
	}
	b.mu.Unlock()

	if ok {
		telemetry.LiveSubscribers.Dec()
	}
}

// snapshot copies the membership so sends never hold the lock.
func (b *Broadcaster) snapshot() []*Subscriber {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	return subs
}

func (b *Broadcaster) send(sub *Subscriber, lp models.LivePacket) {
	select {
	case sub.ch <- lp:
	default:
		// slow consumer, drop it silently
		telemetry.LiveDropped.Inc()
		b.Unsubscribe(sub)
	}
}

func (b *Broadcaster) fanOutPacket(p *models.ParsedPacket) {
	meta := b.gatewayMeta(p.GatewayID)
	lp := models.LiveFromParsed(p, meta.Name)
	csLP, hasCs := b.csRendition(lp)

	for _, sub := range b.snapshot() {
		if sub.filter.SourceMode == SourceChirpstack {
			if hasCs && sub.filter.Matches(&csLP, meta.Alias, meta.Group) {
				b.send(sub, csLP)
			}
			continue
		}
		if sub.filter.Matches(&lp, meta.Alias, meta.Group) {
			b.send(sub, lp)
		}
	}
}

func (b *Broadcaster) fanOutCs(p *models.CsPacket) {
	lp := models.LiveFromCs(p)

	for _, sub := range b.snapshot() {
		if sub.filter.SourceMode != SourceChirpstack {
			continue
		}
		if sub.filter.Matches(&lp, "", "") {
			b.send(sub, lp)
		}
	}
}

// csRendition maps a gateway downlink onto the application view when the
// DevAddr is known to belong to a ChirpStack device.
func (b *Broadcaster) csRendition(lp models.LivePacket) (models.LivePacket, bool) {
	if lp.Type != string(models.PacketDownlink) || lp.DevAddr == "" {
		return lp, false
	}

	b.cmu.Lock()
	devEUI, ok := b.byAddr[lp.DevAddr]
	var meta deviceMeta
	if ok {
		meta = b.devices[devEUI]
	}
	b.cmu.Unlock()

	if !ok {
		return lp, false
	}
	cs := lp
	cs.DevEUI = devEUI
	cs.DeviceName = meta.DeviceName
	cs.Source = models.LiveSourceChirpstack
	return cs, true
}

// ========== Metadata Caches ==========

func (b *Broadcaster) gatewayMeta(gatewayID string) gatewayMeta {
	b.cmu.Lock()
	meta := b.gateways[gatewayID]
	b.cmu.Unlock()
	return meta
}

// SetGateway refreshes the gateway cache; wired to the writer's upsert
// hook.
func (b *Broadcaster) SetGateway(gw *models.Gateway) {
	if gw == nil || gw.GatewayID == "" {
		return
	}
	b.cmu.Lock()
	b.gateways[gw.GatewayID] = gatewayMeta{Name: gw.Name, Alias: gw.Alias, Group: gw.GroupName}
	b.cmu.Unlock()
}

// SetCsDevice refreshes the device cache and the reverse DevAddr index.
func (b *Broadcaster) SetCsDevice(dev *models.CsDevice) {
	if dev == nil || dev.DevEUI == "" {
		return
	}
	b.cmu.Lock()
	b.devices[dev.DevEUI] = deviceMeta{
		DevEUI:     dev.DevEUI,
		DevAddr:    dev.DevAddr,
		DeviceName: dev.DeviceName,
		AppName:    dev.ApplicationName,
	}
	if dev.DevAddr != "" {
		b.byAddr[dev.DevAddr] = dev.DevEUI
	}
	b.cmu.Unlock()
}

// Prime seeds both caches from the store at startup so live packets carry
// names before the first upsert lands.
func (b *Broadcaster) Prime(gateways []*models.Gateway, devices []*models.CsDevice) {
	for _, gw := range gateways {
		b.SetGateway(gw)
	}
	for _, dev := range devices {
		b.SetCsDevice(dev)
	}
}
