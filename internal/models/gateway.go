package models

import (
	"time"
)

// Gateway represents a LoRaWAN gateway as observed on the broker. Rows are
// created on first sighting and mutated on every upsert; the core never
// deletes them.
type Gateway struct {
	GatewayID string `json:"gatewayId" db:"gateway_id"`
	Name      string `json:"name,omitempty" db:"name"`
	Alias     string `json:"alias,omitempty" db:"alias"`
	GroupName string `json:"groupName,omitempty" db:"group_name"`

	FirstSeen time.Time `json:"firstSeen" db:"first_seen"`
	LastSeen  time.Time `json:"lastSeen" db:"last_seen"`

	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`
}

// GatewayUpsert carries the fields of a single sighting. Nil fields are
// preserved on the existing row.
type GatewayUpsert struct {
	GatewayID string
	Name      *string
	Alias     *string
	GroupName *string
	Latitude  *float64
	Longitude *float64
}

// Location represents a geographic location attached to rx metadata
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
}
