package models

import (
	"time"
)

// CsDevice represents a device seen on the application bus, one row per
// DevEUI.
type CsDevice struct {
	DevEUI          string    `json:"devEui" db:"dev_eui"`
	DevAddr         string    `json:"devAddr,omitempty" db:"dev_addr"`
	DeviceName      string    `json:"deviceName" db:"device_name"`
	ApplicationID   string    `json:"applicationId" db:"application_id"`
	ApplicationName string    `json:"applicationName,omitempty" db:"application_name"`
	FirstSeen       time.Time `json:"firstSeen" db:"first_seen"`
	LastSeen        time.Time `json:"lastSeen" db:"last_seen"`
	PacketCount     int64     `json:"packetCount" db:"packet_count"`
}

// CsDeviceUpsert carries one application-bus sighting. PacketCount is
// incremented by one on every call; empty strings preserve existing values.
type CsDeviceUpsert struct {
	DevEUI          string
	DevAddr         string
	DeviceName      string
	ApplicationID   string
	ApplicationName string
}
