package models

// Decoded broker events, produced by internal/decode and consumed by the
// pipeline. Radio parameters use Hz; empty strings mean absent.

// GatewayUplink is a gateway-bridge up event
type GatewayUplink struct {
	PHYPayload []byte

	GatewayID       string
	RSSI            int
	SNR             float64
	Frequency       int64
	SpreadingFactor int
	Bandwidth       int
	CodeRate        string

	// Optional rx metadata
	Location    *Location
	GatewayName string
	RelayID     string
}

// GatewayDownlink is a gateway-bridge down event
type GatewayDownlink struct {
	PHYPayload []byte

	GatewayID       string
	Frequency       int64
	SpreadingFactor int
	Bandwidth       int
	CodeRate        string
}

// GatewayTxAck is a gateway-bridge ack event. Status is the CamelCase
// status name ("OK", "CollisionPacket", ...).
type GatewayTxAck struct {
	GatewayID  string
	DownlinkID uint32
	Status     string
}

// AppEvent is a decoded application-bus event. Which fields are meaningful
// depends on Kind.
type AppEvent struct {
	Kind AppEventKind

	DevEUI          string
	DevAddr         string
	DeviceName      string
	ApplicationID   string
	ApplicationName string

	RSSI            int
	SNR             float64
	Frequency       int64
	SpreadingFactor int
	Bandwidth       int

	PayloadSize int
	FCnt        *uint32
	FPort       *uint8
	Confirmed   *bool

	// Status is set for tx-ack ("OK") and ack ("ACK"/"NACK") events
	Status string
}

// AppEventKind discriminates application-bus events
type AppEventKind string

const (
	AppEventUplink   AppEventKind = "up"
	AppEventTxAck    AppEventKind = "txack"
	AppEventAck      AppEventKind = "ack"
	AppEventDownlink AppEventKind = "down"
)
