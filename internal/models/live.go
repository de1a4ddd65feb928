package models

import (
	"fmt"
)

// LivePacket is the subscriber-bound JSON form of a packet. Timestamps are
// unix milliseconds, frequency is MHz, airtime is milliseconds, data_rate is
// the "SF{sf}BW{bw_khz}" string.
type LivePacket struct {
	Timestamp       int64   `json:"timestamp"`
	GatewayID       string  `json:"gateway_id"`
	GatewayName     string  `json:"gateway_name,omitempty"`
	BorderGatewayID string  `json:"border_gateway_id,omitempty"`
	Type            string  `json:"type"`
	DevAddr         string  `json:"dev_addr,omitempty"`
	DevEUI          string  `json:"dev_eui,omitempty"`
	JoinEUI         string  `json:"join_eui,omitempty"`
	DeviceName      string  `json:"device_name,omitempty"`
	Operator        string  `json:"operator"`
	DataRate        string  `json:"data_rate"`
	Frequency       float64 `json:"frequency"`
	SNR             float64 `json:"snr"`
	RSSI            int     `json:"rssi"`
	PayloadSize     int     `json:"payload_size"`
	AirtimeMS       float64 `json:"airtime_ms"`
	FCnt            *uint32 `json:"f_cnt,omitempty"`
	FPort           *uint8  `json:"f_port,omitempty"`
	Confirmed       *bool   `json:"confirmed,omitempty"`
	TxStatus        string  `json:"tx_status,omitempty"`
	Source          string  `json:"source,omitempty"`
}

// LiveSourceChirpstack marks application-bus events on the live feed
const LiveSourceChirpstack = "chirpstack"

// LiveFromParsed renders a gateway-pipeline packet for the live feed.
// gatewayName comes from the broadcaster's metadata cache and may be empty.
func LiveFromParsed(p *ParsedPacket, gatewayName string) LivePacket {
	lp := LivePacket{
		Timestamp:       p.Timestamp.UnixMilli(),
		GatewayID:       p.GatewayID,
		GatewayName:     gatewayName,
		BorderGatewayID: p.BorderGatewayID,
		Type:            string(p.Type),
		DevAddr:         p.DevAddr,
		DevEUI:          p.DevEUI,
		JoinEUI:         p.JoinEUI,
		Operator:        p.Operator,
		DataRate:        dataRateString(p.SpreadingFactor, p.Bandwidth),
		Frequency:       float64(p.Frequency) / 1e6,
		SNR:             p.SNR,
		RSSI:            p.RSSI,
		PayloadSize:     p.PayloadSize,
		AirtimeMS:       float64(p.AirtimeUS) / 1000,
		FCnt:            p.FCnt,
		FPort:           p.FPort,
		Confirmed:       p.Confirmed,
	}
	if p.Type == PacketTxAck {
		lp.TxStatus = p.Operator
	}
	return lp
}

// LiveFromCs renders an application-bus packet for the live feed
func LiveFromCs(p *CsPacket) LivePacket {
	return LivePacket{
		Timestamp:   p.Timestamp.UnixMilli(),
		Type:        string(p.Type),
		DevAddr:     p.DevAddr,
		DevEUI:      p.DevEUI,
		DeviceName:  p.DeviceName,
		Operator:    p.Operator,
		DataRate:    dataRateString(p.SpreadingFactor, p.Bandwidth),
		Frequency:   float64(p.Frequency) / 1e6,
		SNR:         p.SNR,
		RSSI:        p.RSSI,
		PayloadSize: p.PayloadSize,
		AirtimeMS:   float64(p.AirtimeUS) / 1000,
		FCnt:        p.FCnt,
		FPort:       p.FPort,
		Confirmed:   p.Confirmed,
		TxStatus:    p.TxStatus,
		Source:      LiveSourceChirpstack,
	}
}

func dataRateString(sf, bandwidth int) string {
	if sf == 0 || bandwidth == 0 {
		return ""
	}
	return fmt.Sprintf("SF%dBW%d", sf, bandwidth/1000)
}
