package models

import (
	"time"
)

// Read-layer result shapes. These are what the API serializes; the query
// methods in internal/storage fill them.

// GatewayActivity is a gateway row joined with its traffic counters for a
// window.
type GatewayActivity struct {
	Gateway
	PacketCount   int64 `json:"packetCount"`
	AirtimeUS     int64 `json:"airtimeUs"`
	UniqueDevices int64 `json:"uniqueDevices"`
}

// TimeSeriesPoint is one bucket of a time series. Group is set when the
// series is split by gateway, operator or packet type.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Group     string    `json:"group,omitempty"`
}

// ChannelCount is the per-frequency slice of the channel distribution.
type ChannelCount struct {
	Frequency int64 `json:"frequency"`
	Count     int64 `json:"count"`
	AirtimeUS int64 `json:"airtimeUs"`
}

// SFCount is the per-spreading-factor slice of the SF distribution. SF 0
// collects packets without LoRa modulation data.
type SFCount struct {
	SpreadingFactor int   `json:"spreadingFactor"`
	Count           int64 `json:"count"`
	AirtimeUS       int64 `json:"airtimeUs"`
}

// DutyCycle reports airtime utilization for a window. Unscoped queries
// average the percentages across gateways.
type DutyCycle struct {
	GatewayID          string  `json:"gatewayId,omitempty"`
	RxAirtimePercent   float64 `json:"rxAirtimePercent"`
	TxDutyCyclePercent float64 `json:"txDutyCyclePercent"`
}

// DeviceProfile summarizes one DevAddr over a window.
type DeviceProfile struct {
	DevAddr      string    `json:"devAddr"`
	DevEUI       string    `json:"devEui,omitempty"`
	Operator     string    `json:"operator"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
	PacketCount  int64     `json:"packetCount"`
	GatewayCount int64     `json:"gatewayCount"`
	AvgRSSI      float64   `json:"avgRssi"`
	AvgSNR       float64   `json:"avgSnr"`
	LastFCnt     *uint32   `json:"lastFCnt,omitempty"`
}

// GatewayLoss is the per-gateway slice of a loss report.
type GatewayLoss struct {
	GatewayID   string  `json:"gatewayId"`
	Received    int64   `json:"received"`
	Missed      int64   `json:"missed"`
	LossPercent float64 `json:"lossPercent"`
}

// DeviceLoss reports FCnt-gap packet loss for one device.
type DeviceLoss struct {
	DevAddr     string        `json:"devAddr"`
	Received    int64         `json:"received"`
	Missed      int64         `json:"missed"`
	LossPercent float64       `json:"lossPercent"`
	PerGateway  []GatewayLoss `json:"perGateway,omitempty"`
}

// DeviceIntervals summarizes the spacing between a device's uplinks.
type DeviceIntervals struct {
	DevAddr       string  `json:"devAddr"`
	Samples       int64   `json:"samples"`
	MeanSeconds   float64 `json:"meanSeconds"`
	MedianSeconds float64 `json:"medianSeconds"`
	MinSeconds    float64 `json:"minSeconds"`
	MaxSeconds    float64 `json:"maxSeconds"`
}

// LossPercent computes missed/(received+missed) as a percentage.
func LossPercent(received, missed int64) float64 {
	total := received + missed
	if total == 0 {
		return 0
	}
	return float64(missed) / float64(total) * 100
}
