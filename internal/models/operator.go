package models

import (
	"time"
)

// OperatorRule maps a DevAddr prefix to an operator name. Immutable once
// loaded; rule sets are versioned by reload.
type OperatorRule struct {
	Prefix   uint32 `json:"prefix"`
	Mask     uint32 `json:"mask"`
	Bits     int    `json:"bits"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Color    string `json:"color,omitempty"`
}

// Matches reports whether addr falls under the rule's prefix
func (r OperatorRule) Matches(addr uint32) bool {
	return addr&r.Mask == r.Prefix
}

// CustomOperator is a user-defined operator rule persisted in the store
type CustomOperator struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Prefix    string    `json:"prefix" db:"prefix"`
	Priority  int       `json:"priority" db:"priority"`
	Color     string    `json:"color,omitempty" db:"color"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// HideRule suppression types
const (
	HideRuleDevAddr = "dev_addr"
	HideRuleJoinEUI = "join_eui"
)

// HideRule suppresses matching rows from read endpoints
type HideRule struct {
	ID          int64     `json:"id" db:"id"`
	Type        string    `json:"type" db:"rule_type"`
	Prefix      string    `json:"prefix" db:"prefix"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
