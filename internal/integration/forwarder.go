// Package integration republishes the live packet feed onto NATS so other
// systems can consume it without speaking our WebSocket protocol. Delivery
// is fire-and-forget: the database stays the source of truth.
package integration

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ccall48/lorawan-analyzer/internal/broadcast"
	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// publisher is the slice of *nats.Conn the forwarder uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Forwarder bridges the broadcaster to NATS. Gateway-pipeline packets go
// to {prefix}.packets.{type}, application-bus events to {prefix}.cs.{type},
// both in the live-feed JSON wire form.
type Forwarder struct {
	nc     publisher
	bcast  *broadcast.Broadcaster
	prefix string
	log    zerolog.Logger

	packets *broadcast.Subscriber
	cs      *broadcast.Subscriber
}

// New wires a forwarder over an established NATS connection.
func New(nc publisher, b *broadcast.Broadcaster, prefix string, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		nc:     nc,
		bcast:  b,
		prefix: prefix,
		log:    log.With().Str("component", "integration").Logger(),
	}
}

// Start registers the two broadcaster subscriptions and launches their
// pump goroutines.
func (f *Forwarder) Start() {
	f.packets = f.bcast.Subscribe(broadcast.Filter{})
	f.cs = f.bcast.Subscribe(broadcast.Filter{SourceMode: broadcast.SourceChirpstack})

	go f.pump(f.packets, f.prefix+".packets")
	go f.pump(f.cs, f.prefix+".cs")

	f.log.Info().Str("prefix", f.prefix).Msg("nats forwarder started")
}

// Stop unsubscribes; the pumps exit on the closed signal.
func (f *Forwarder) Stop() {
	f.bcast.Unsubscribe(f.packets)
	f.bcast.Unsubscribe(f.cs)
}

func (f *Forwarder) pump(sub *broadcast.Subscriber, base string) {
	for {
		select {
		case lp := <-sub.Packets():
			f.publish(base, lp)
		case <-sub.Closed():
			return
		}
	}
}

func (f *Forwarder) publish(base string, lp models.LivePacket) {
	data, err := json.Marshal(lp)
	if err != nil {
		f.log.Error().Err(err).Msg("marshal live packet")
		return
	}

	subject := fmt.Sprintf("%s.%s", base, lp.Type)
	if err := f.nc.Publish(subject, data); err != nil {
		f.log.Warn().Err(err).Str("subject", subject).Msg("nats publish failed, dropping")
	}
}
