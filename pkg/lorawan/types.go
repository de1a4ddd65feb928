package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload is returned when a PHYPayload buffer is shorter than
// its message type requires.
var ErrMalformedPayload = errors.New("lorawan: malformed payload")

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns the uppercase big-endian hex representation
func (e EUI64) String() string {
	return fmt.Sprintf("%016X", [8]byte(e))
}

// Bytes returns the EUI as a big-endian slice
func (e EUI64) Bytes() []byte {
	return e[:]
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return e.UnmarshalText(s)
}

// UnmarshalText parses a big-endian hex string
func (e *EUI64) UnmarshalText(s string) error {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	if len(b) != 8 {
		return fmt.Errorf("invalid EUI64 length: %d", len(b))
	}
	copy(e[:], b)
	return nil
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// String returns the uppercase big-endian hex representation
func (d DevAddr) String() string {
	return fmt.Sprintf("%08X", [4]byte(d))
}

// Uint32 returns the address as a big-endian 32-bit value, the form used
// for NetID prefix arithmetic.
func (d DevAddr) Uint32() uint32 {
	return uint32(d[0])<<24 | uint32(d[1])<<16 | uint32(d[2])<<8 | uint32(d[3])
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RejoinRequest
	Proprietary
)

// String returns the LoRaWAN name of the message type
func (m MType) String() string {
	switch m {
	case JoinRequest:
		return "JoinRequest"
	case JoinAccept:
		return "JoinAccept"
	case UnconfirmedDataUp:
		return "UnconfirmedDataUp"
	case UnconfirmedDataDown:
		return "UnconfirmedDataDown"
	case ConfirmedDataUp:
		return "ConfirmedDataUp"
	case ConfirmedDataDown:
		return "ConfirmedDataDown"
	case RejoinRequest:
		return "RejoinRequest"
	case Proprietary:
		return "Proprietary"
	}
	return fmt.Sprintf("MType(%d)", byte(m))
}

// IsUplink reports whether the message type travels device to network
func (m MType) IsUplink() bool {
	switch m {
	case JoinRequest, UnconfirmedDataUp, ConfirmedDataUp, RejoinRequest:
		return true
	}
	return false
}

// Major represents the LoRaWAN major version
type Major byte

const (
	LoRaWAN1_0 Major = 0
	LoRaWAN1_1 Major = 1
)

// PHYPayload represents the physical payload
type PHYPayload struct {
	MHDR       MHDR
	MACPayload []byte
	MIC        [4]byte
}

// MHDR represents the MAC header
type MHDR struct {
	MType MType
	Major Major
}

// MACPayload represents the MAC payload of a data frame
type MACPayload struct {
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte
}

// FHDR represents the frame header
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16
	FOpts   []byte
}

// FCtrl represents the frame control byte
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	ClassB    bool
	FPending  bool
}

// JoinRequestPayload represents the MAC payload of a join request
type JoinRequestPayload struct {
	JoinEUI  EUI64
	DevEUI   EUI64
	DevNonce uint16
}
