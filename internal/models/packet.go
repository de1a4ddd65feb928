package models

import (
	"time"
)

// PacketType classifies a row in the packets stream
type PacketType string

const (
	PacketData        PacketType = "data"
	PacketJoinRequest PacketType = "join_request"
	PacketDownlink    PacketType = "downlink"
	PacketTxAck       PacketType = "tx_ack"

	// PacketAck only appears on the live feed for application-bus
	// confirmed-downlink acknowledgements; it is never persisted.
	PacketAck PacketType = "ack"
)

// ParsedPacket is the canonical record emitted by the gateway pipeline
type ParsedPacket struct {
	Timestamp       time.Time  `json:"timestamp" db:"timestamp"`
	GatewayID       string     `json:"gatewayId" db:"gateway_id"`
	BorderGatewayID string     `json:"borderGatewayId,omitempty" db:"border_gateway_id"`
	Type            PacketType `json:"type" db:"packet_type"`

	// Addressing (presence depends on Type)
	DevAddr string `json:"devAddr,omitempty" db:"dev_addr"`
	JoinEUI string `json:"joinEui,omitempty" db:"join_eui"`
	DevEUI  string `json:"devEui,omitempty" db:"dev_eui"`

	// Operator holds the resolved carrier name; for tx_ack rows it holds
	// the TX status name instead.
	Operator string `json:"operator" db:"operator"`

	// Radio
	Frequency       int64   `json:"frequency" db:"frequency"`
	SpreadingFactor int     `json:"spreadingFactor,omitempty" db:"spreading_factor"`
	Bandwidth       int     `json:"bandwidth,omitempty" db:"bandwidth"`
	RSSI            int     `json:"rssi" db:"rssi"`
	SNR             float64 `json:"snr" db:"snr"`
	PayloadSize     int     `json:"payloadSize" db:"payload_size"`
	AirtimeUS       int64   `json:"airtimeUs" db:"airtime_us"`

	// MAC; for tx_ack rows FCnt carries the downlink correlation id
	FCnt      *uint32 `json:"fCnt,omitempty" db:"f_cnt"`
	FPort     *uint8  `json:"fPort,omitempty" db:"f_port"`
	Confirmed *bool   `json:"confirmed,omitempty" db:"confirmed"`

	// SessionID links post-join packets to their join event
	SessionID string `json:"sessionId,omitempty" db:"session_id"`
}

// IsUplink reports whether the row carries meaningful RSSI/SNR
func (p *ParsedPacket) IsUplink() bool {
	return p.Type == PacketData || p.Type == PacketJoinRequest
}

// CsPacket is the application-bus shadow of an uplink, keyed on DevEUI
type CsPacket struct {
	Timestamp       time.Time  `json:"timestamp" db:"timestamp"`
	Type            PacketType `json:"type" db:"-"`
	DevEUI          string     `json:"devEui" db:"dev_eui"`
	DevAddr         string     `json:"devAddr,omitempty" db:"dev_addr"`
	DeviceName      string     `json:"deviceName" db:"device_name"`
	ApplicationID   string     `json:"applicationId" db:"application_id"`
	ApplicationName string     `json:"applicationName,omitempty" db:"-"`

	// Operator mirrors the application name, falling back to the id
	Operator string `json:"operator" db:"operator"`

	Frequency       int64   `json:"frequency" db:"frequency"`
	SpreadingFactor int     `json:"spreadingFactor,omitempty" db:"spreading_factor"`
	Bandwidth       int     `json:"bandwidth,omitempty" db:"bandwidth"`
	RSSI            int     `json:"rssi" db:"rssi"`
	SNR             float64 `json:"snr" db:"snr"`
	PayloadSize     int     `json:"payloadSize" db:"payload_size"`
	AirtimeUS       int64   `json:"airtimeUs" db:"airtime_us"`

	FCnt      *uint32 `json:"fCnt,omitempty" db:"f_cnt"`
	FPort     *uint8  `json:"fPort,omitempty" db:"f_port"`
	Confirmed *bool   `json:"confirmed,omitempty" db:"confirmed"`

	// TxStatus is set on tx_ack/ack events (live feed only)
	TxStatus string `json:"txStatus,omitempty" db:"-"`
}
