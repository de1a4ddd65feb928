// Package pipeline hosts the single worker that turns raw broker messages
// into enriched packets. Decoders, the PHY parser, the operator matcher and
// the session tracker all run on this one goroutine; the worker fans results
// out to the batched writer and the live broadcaster.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccall48/lorawan-analyzer/internal/broadcast"
	"github.com/ccall48/lorawan-analyzer/internal/decode"
	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
	"github.com/ccall48/lorawan-analyzer/internal/session"
	"github.com/ccall48/lorawan-analyzer/internal/telemetry"
	"github.com/ccall48/lorawan-analyzer/internal/writer"
	"github.com/ccall48/lorawan-analyzer/pkg/lorawan"
)

// inboundBuffer sizes the fan-out channel between the broker readers and
// the worker. A full channel blocks the readers, which is the intended
// backpressure: the broker buffers or sheds QoS-0 traffic, not us.
const inboundBuffer = 1024

// Message is one raw broker message with its topic classification. Format
// carries the owning broker's payload encoding ("protobuf" or "json") and
// applies to gateway events only; application events are always JSON.
type Message struct {
	Topic   decode.TopicInfo
	Payload []byte
	Broker  string
	Format  string
}

// Pipeline consumes Messages and emits ParsedPacket/CsPacket downstream.
type Pipeline struct {
	matcher  *operators.Matcher
	sessions *session.Tracker
	writer   *writer.Writer
	bcast    *broadcast.Broadcaster
	log      zerolog.Logger

	in   chan Message
	done chan struct{}
}

// New assembles a pipeline over an already-constructed writer and
// broadcaster. Call Start to launch the worker.
func New(matcher *operators.Matcher, sessions *session.Tracker, w *writer.Writer, b *broadcast.Broadcaster, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		matcher:  matcher,
		sessions: sessions,
		writer:   w,
		bcast:    b,
		log:      log.With().Str("component", "pipeline").Logger(),
		in:       make(chan Message, inboundBuffer),
		done:     make(chan struct{}),
	}
}

// Enqueue hands one raw message to the worker. Blocks when the worker is
// behind. Must not be called after Stop.
func (p *Pipeline) Enqueue(m Message) {
	p.in <- m
}

// Start launches the worker goroutine.
func (p *Pipeline) Start() {
	go p.run()
}

// Stop closes the inbound channel and waits for the worker to drain it.
// All broker readers must be stopped first.
func (p *Pipeline) Stop(ctx context.Context) error {
	close(p.in)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) run() {
	for m := range p.in {
		p.dispatch(m)
	}
	close(p.done)
}

func (p *Pipeline) dispatch(m Message) {
	switch m.Topic.Kind {
	case decode.TopicGatewayUp:
		p.handleGatewayUp(m)
	case decode.TopicGatewayDown:
		p.handleGatewayDown(m)
	case decode.TopicGatewayAck:
		p.handleGatewayAck(m)
	case decode.TopicGatewayStats:
		// stats 不带帧，直接丢弃
	case decode.TopicAppEvent:
		p.handleAppEvent(m)
	case decode.TopicAppCommandDown:
		p.handleAppCommand(m)
	}
}

// handleGatewayUp turns a gateway up event into a data or join_request
// packet. Anything else the PHY decodes to (join accepts, proprietary
// frames) is dropped.
func (p *Pipeline) handleGatewayUp(m Message) {
	var (
		up  *models.GatewayUplink
		err error
	)
	if m.Format == "json" {
		up, err = decode.UplinkFromJSON(m.Payload)
	} else {
		up, err = decode.UplinkFromProto(m.Payload)
	}
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("gateway_up").Inc()
		p.log.Debug().Err(err).Str("broker", m.Broker).Msg("undecodable gateway uplink")
		return
	}

	frame, err := lorawan.ParseFrame(up.PHYPayload)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("phy").Inc()
		p.log.Debug().Err(err).Str("broker", m.Broker).Msg("malformed phy payload")
		return
	}

	gatewayID := strings.ToLower(up.GatewayID)
	if gatewayID == "" {
		gatewayID = m.Topic.GatewayID
	}

	pkt := &models.ParsedPacket{
		Timestamp:       time.Now().UTC(),
		GatewayID:       gatewayID,
		Frequency:       up.Frequency,
		SpreadingFactor: up.SpreadingFactor,
		Bandwidth:       up.Bandwidth,
		RSSI:            up.RSSI,
		SNR:             up.SNR,
		PayloadSize:     len(up.PHYPayload),
		AirtimeUS:       lorawan.Airtime(len(up.PHYPayload), up.SpreadingFactor, up.Bandwidth, up.CodeRate),
	}

	switch frame.MType {
	case lorawan.JoinRequest:
		pkt.Type = models.PacketJoinRequest
		pkt.JoinEUI = frame.JoinEUI.String()
		pkt.DevEUI = frame.DevEUI.String()
		pkt.Operator = p.matcher.MatchJoinEUI(pkt.JoinEUI)
		pkt.SessionID = p.sessions.RecordJoin(pkt.DevEUI, pkt.JoinEUI, pkt.Operator)

	case lorawan.UnconfirmedDataUp, lorawan.ConfirmedDataUp:
		pkt.Type = models.PacketData
		pkt.DevAddr = frame.DevAddr.String()
		fcnt := uint32(frame.FCnt)
		pkt.FCnt = &fcnt
		pkt.FPort = frame.FPort
		pkt.Confirmed = frame.Confirmed
		pkt.Operator = p.matcher.MatchDevAddrHex(pkt.DevAddr)
		pkt.SessionID, pkt.DevEUI = p.sessions.Resolve(pkt.DevAddr, pkt.Operator)

	default:
		p.log.Debug().
			Str("mtype", frame.MType.String()).
			Str("gateway_id", gatewayID).
			Msg("unhandled mtype on up event")
		return
	}

	_, bound := p.sessions.Stats()
	telemetry.SessionsBound.Set(float64(bound))

	// 中继帧：relay 记为网关，实际收包的网关记为 border
	if up.RelayID != "" {
		pkt.BorderGatewayID = pkt.GatewayID
		pkt.GatewayID = strings.ToLower(up.RelayID)
	}

	p.emit(pkt)
	p.upsertGateways(pkt, up)
}

// handleGatewayDown records a downlink command dispatched to a gateway.
// RSSI and SNR stay zero; only uplinks carry receive metrics.
func (p *Pipeline) handleGatewayDown(m Message) {
	var (
		down *models.GatewayDownlink
		err  error
	)
	if m.Format == "json" {
		down, err = decode.DownlinkFromJSON(m.Payload)
	} else {
		down, err = decode.DownlinkFromProto(m.Payload)
	}
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("gateway_down").Inc()
		p.log.Debug().Err(err).Str("broker", m.Broker).Msg("undecodable gateway downlink")
		return
	}

	gatewayID := strings.ToLower(down.GatewayID)
	if gatewayID == "" {
		gatewayID = m.Topic.GatewayID
	}

	pkt := &models.ParsedPacket{
		Timestamp:       time.Now().UTC(),
		GatewayID:       gatewayID,
		Type:            models.PacketDownlink,
		Frequency:       down.Frequency,
		SpreadingFactor: down.SpreadingFactor,
		Bandwidth:       down.Bandwidth,
		PayloadSize:     len(down.PHYPayload),
		AirtimeUS:       lorawan.Airtime(len(down.PHYPayload), down.SpreadingFactor, down.Bandwidth, down.CodeRate),
	}

	// Join accepts are encrypted and carry no DevAddr; data downs do.
	frame, err := lorawan.ParseFrame(down.PHYPayload)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("phy").Inc()
		p.log.Debug().Err(err).Str("broker", m.Broker).Msg("malformed downlink phy payload")
		return
	}
	if frame.DevAddr != nil {
		pkt.DevAddr = frame.DevAddr.String()
		fcnt := uint32(frame.FCnt)
		pkt.FCnt = &fcnt
		pkt.FPort = frame.FPort
		pkt.Confirmed = frame.Confirmed
	}
	pkt.Operator = p.matcher.MatchDevAddrHex(pkt.DevAddr)

	p.emit(pkt)
	p.writer.UpsertGateway(&models.GatewayUpsert{GatewayID: pkt.GatewayID})
}

// handleGatewayAck records a TX acknowledgement. The status name rides in
// Operator and the downlink correlation id in FCnt; radio fields stay zero.
func (p *Pipeline) handleGatewayAck(m Message) {
	var (
		ack *models.GatewayTxAck
		err error
	)
	if m.Format == "json" {
		ack, err = decode.TxAckFromJSON(m.Payload)
	} else {
		ack, err = decode.TxAckFromProto(m.Payload)
	}
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("gateway_ack").Inc()
		p.log.Debug().Err(err).Str("broker", m.Broker).Msg("undecodable tx ack")
		return
	}

	gatewayID := strings.ToLower(ack.GatewayID)
	if gatewayID == "" {
		gatewayID = m.Topic.GatewayID
	}

	downlinkID := ack.DownlinkID
	pkt := &models.ParsedPacket{
		Timestamp: time.Now().UTC(),
		GatewayID: gatewayID,
		Type:      models.PacketTxAck,
		Operator:  ack.Status,
		FCnt:      &downlinkID,
	}

	p.emit(pkt)
	p.writer.UpsertGateway(&models.GatewayUpsert{GatewayID: gatewayID})
}

// handleAppEvent processes application-bus up/txack/ack events. Only up
// events are persisted and counted against the device; acks exist solely
// on the live feed.
func (p *Pipeline) handleAppEvent(m Message) {
	ev, err := decode.AppEventFromJSON(m.Topic.AppKind, m.Payload)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("app_event").Inc()
		p.log.Debug().Err(err).Str("broker", m.Broker).Msg("undecodable application event")
		return
	}

	cs := p.csFromEvent(ev, m.Topic)
	switch ev.Kind {
	case models.AppEventUplink:
		cs.Type = models.PacketData
		p.writer.EnqueueCsPacket(cs)
		p.writer.UpsertCsDevice(&models.CsDeviceUpsert{
			DevEUI:          cs.DevEUI,
			DevAddr:         cs.DevAddr,
			DeviceName:      cs.DeviceName,
			ApplicationID:   cs.ApplicationID,
			ApplicationName: cs.ApplicationName,
		})
	case models.AppEventTxAck:
		cs.Type = models.PacketTxAck
		cs.TxStatus = ev.Status
	case models.AppEventAck:
		cs.Type = models.PacketAck
		cs.TxStatus = ev.Status
	default:
		return
	}

	telemetry.PacketsParsed.WithLabelValues("cs_" + string(cs.Type)).Inc()
	p.bcast.PublishCs(cs)
}

// handleAppCommand renders an enqueue-downlink command for the live feed.
// Commands are never persisted.
func (p *Pipeline) handleAppCommand(m Message) {
	ev, err := decode.DownCommandFromJSON(m.Payload)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("app_command").Inc()
		p.log.Debug().Err(err).Str("broker", m.Broker).Msg("undecodable downlink command")
		return
	}

	cs := p.csFromEvent(ev, m.Topic)
	cs.Type = models.PacketDownlink

	telemetry.PacketsParsed.WithLabelValues("cs_" + string(cs.Type)).Inc()
	p.bcast.PublishCs(cs)
}

// csFromEvent builds the common CsPacket fields. The topic fills in
// whatever the body omitted; Operator prefers the application name.
func (p *Pipeline) csFromEvent(ev *models.AppEvent, topic decode.TopicInfo) *models.CsPacket {
	devEUI := strings.ToUpper(ev.DevEUI)
	if devEUI == "" {
		devEUI = topic.DevEUI
	}
	appID := ev.ApplicationID
	if appID == "" {
		appID = topic.ApplicationID
	}
	operator := ev.ApplicationName
	if operator == "" {
		operator = appID
	}

	return &models.CsPacket{
		Timestamp:       time.Now().UTC(),
		DevEUI:          devEUI,
		DevAddr:         strings.ToUpper(ev.DevAddr),
		DeviceName:      ev.DeviceName,
		ApplicationID:   appID,
		ApplicationName: ev.ApplicationName,
		Operator:        operator,
		Frequency:       ev.Frequency,
		SpreadingFactor: ev.SpreadingFactor,
		Bandwidth:       ev.Bandwidth,
		RSSI:            ev.RSSI,
		SNR:             ev.SNR,
		PayloadSize:     ev.PayloadSize,
		AirtimeUS:       lorawan.Airtime(ev.PayloadSize, ev.SpreadingFactor, ev.Bandwidth, ""),
		FCnt:            ev.FCnt,
		FPort:           ev.FPort,
		Confirmed:       ev.Confirmed,
	}
}

// emit hands a finished packet to the writer and the broadcaster.
func (p *Pipeline) emit(pkt *models.ParsedPacket) {
	telemetry.PacketsParsed.WithLabelValues(string(pkt.Type)).Inc()
	p.writer.EnqueuePacket(pkt)
	p.bcast.PublishPacket(pkt)
}

// upsertGateways refreshes gateway rows after an uplink. The sighting
// metadata (name, location) belongs to the packet's gateway, which after a
// relay swap is the relay; the border gateway gets a bare sighting.
func (p *Pipeline) upsertGateways(pkt *models.ParsedPacket, up *models.GatewayUplink) {
	primary := &models.GatewayUpsert{GatewayID: pkt.GatewayID}
	if up.GatewayName != "" {
		name := up.GatewayName
		primary.Name = &name
	}
	if up.Location != nil {
		lat, lon := up.Location.Latitude, up.Location.Longitude
		primary.Latitude = &lat
		primary.Longitude = &lon
	}
	p.writer.UpsertGateway(primary)

	if pkt.BorderGatewayID != "" {
		p.writer.UpsertGateway(&models.GatewayUpsert{GatewayID: pkt.BorderGatewayID})
	}
}
