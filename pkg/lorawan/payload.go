package lorawan

import (
	"fmt"
)

// Frame is the decoded view of a PHYPayload: the message type plus whichever
// addressing and counter fields the type carries. Confirmed is nil for
// anything that is not a data frame.
type Frame struct {
	MType     MType
	DevAddr   *DevAddr
	FCnt      uint16
	FPort     *uint8
	JoinEUI   *EUI64
	DevEUI    *EUI64
	Confirmed *bool
	FCtrl     FCtrl
}

// ParseFrame decodes raw PHYPayload bytes into a Frame. It returns
// ErrMalformedPayload (wrapped) when the buffer is shorter than the message
// type requires.
func ParseFrame(data []byte) (*Frame, error) {
	var phy PHYPayload
	if err := phy.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	f := &Frame{MType: phy.MHDR.MType}

	switch phy.MHDR.MType {
	case UnconfirmedDataUp, ConfirmedDataUp, UnconfirmedDataDown, ConfirmedDataDown:
		var mac MACPayload
		if err := mac.Unmarshal(phy.MACPayload, phy.MHDR.MType); err != nil {
			return nil, err
		}
		addr := mac.FHDR.DevAddr
		confirmed := phy.MHDR.MType == ConfirmedDataUp || phy.MHDR.MType == ConfirmedDataDown
		f.DevAddr = &addr
		f.FCnt = mac.FHDR.FCnt
		f.FPort = mac.FPort
		f.Confirmed = &confirmed
		f.FCtrl = mac.FHDR.FCtrl

	case JoinRequest:
		var jr JoinRequestPayload
		if err := jr.UnmarshalBinary(phy.MACPayload); err != nil {
			return nil, err
		}
		joinEUI, devEUI := jr.JoinEUI, jr.DevEUI
		f.JoinEUI = &joinEUI
		f.DevEUI = &devEUI

	case JoinAccept, RejoinRequest, Proprietary:
		// Join accepts are encrypted and rejoin/proprietary carry nothing
		// this analyzer reads; the type alone is the result.
	}

	return f, nil
}

// UnmarshalBinary unmarshals PHYPayload from binary
func (p *PHYPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: empty buffer", ErrMalformedPayload)
	}

	// MHDR
	p.MHDR.MType = MType((data[0] >> 5) & 0x07)
	p.MHDR.Major = Major(data[0] & 0x03)

	if p.MHDR.MType == Proprietary {
		p.MACPayload = data[1:]
		return nil
	}

	// MHDR + MIC at minimum
	if len(data) < 5 {
		return fmt.Errorf("%w: PHYPayload too short: %d bytes", ErrMalformedPayload, len(data))
	}

	p.MACPayload = data[1 : len(data)-4]
	copy(p.MIC[:], data[len(data)-4:])

	return nil
}

// MarshalBinary marshals PHYPayload to binary
func (p *PHYPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 1+len(p.MACPayload)+4)
	data = append(data, byte(p.MHDR.MType<<5)|byte(p.MHDR.Major))
	data = append(data, p.MACPayload...)
	if p.MHDR.MType != Proprietary {
		data = append(data, p.MIC[:]...)
	}
	return data, nil
}

// Unmarshal unmarshals MACPayload. DevAddr travels little-endian over the
// air and is stored big-endian here. The message type decides how the
// direction-dependent FCtrl bits are read.
func (m *MACPayload) Unmarshal(data []byte, mtype MType) error {
	if len(data) < 7 {
		return fmt.Errorf("%w: MACPayload too short: %d bytes", ErrMalformedPayload, len(data))
	}

	isUplink := mtype.IsUplink()
	pos := 0

	// DevAddr (4 bytes, LE on the wire)
	for i := 0; i < 4; i++ {
		m.FHDR.DevAddr[3-i] = data[pos+i]
	}
	pos += 4

	// FCtrl (1 byte)
	fctrl := data[pos]
	m.FHDR.FCtrl.ADR = (fctrl & 0x80) != 0
	if isUplink {
		m.FHDR.FCtrl.ADRACKReq = (fctrl & 0x40) != 0
		m.FHDR.FCtrl.ACK = (fctrl & 0x20) != 0
		m.FHDR.FCtrl.ClassB = (fctrl & 0x10) != 0
	} else {
		m.FHDR.FCtrl.ACK = (fctrl & 0x20) != 0
		m.FHDR.FCtrl.FPending = (fctrl & 0x10) != 0
	}
	foptsLen := int(fctrl & 0x0F)
	pos++

	// FCnt (2 bytes, LE)
	m.FHDR.FCnt = uint16(data[pos]) | uint16(data[pos+1])<<8
	pos += 2

	// FOpts (variable length)
	if foptsLen > 0 {
		if pos+foptsLen > len(data) {
			return fmt.Errorf("%w: invalid FOpts length", ErrMalformedPayload)
		}
		m.FHDR.FOpts = data[pos : pos+foptsLen]
		pos += foptsLen
	}

	// FPort and FRMPayload (optional)
	if pos < len(data) {
		fport := data[pos]
		m.FPort = &fport
		pos++

		if pos < len(data) {
			m.FRMPayload = data[pos:]
		}
	}

	return nil
}

// Marshal marshals MACPayload
func (m *MACPayload) Marshal(mtype MType) ([]byte, error) {
	isUplink := mtype.IsUplink()

	var data []byte

	// DevAddr (LE on the wire)
	for i := 0; i < 4; i++ {
		data = append(data, m.FHDR.DevAddr[3-i])
	}

	// FCtrl
	fctrl := byte(0)
	if m.FHDR.FCtrl.ADR {
		fctrl |= 0x80
	}
	if isUplink {
		if m.FHDR.FCtrl.ADRACKReq {
			fctrl |= 0x40
		}
		if m.FHDR.FCtrl.ACK {
			fctrl |= 0x20
		}
		if m.FHDR.FCtrl.ClassB {
			fctrl |= 0x10
		}
	} else {
		if m.FHDR.FCtrl.ACK {
			fctrl |= 0x20
		}
		if m.FHDR.FCtrl.FPending {
			fctrl |= 0x10
		}
	}
	fctrl |= byte(len(m.FHDR.FOpts)) & 0x0F
	data = append(data, fctrl)

	// FCnt (16-bit)
	data = append(data, byte(m.FHDR.FCnt), byte(m.FHDR.FCnt>>8))

	// FOpts
	data = append(data, m.FHDR.FOpts...)

	// FPort (optional); FRMPayload only present when FPort is
	if m.FPort != nil {
		data = append(data, *m.FPort)
		data = append(data, m.FRMPayload...)
	}

	return data, nil
}

// UnmarshalBinary unmarshals a join request MAC payload. EUIs travel
// little-endian over the air and are stored big-endian here.
func (j *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 18 {
		return fmt.Errorf("%w: invalid JoinRequest length: expected 18, got %d", ErrMalformedPayload, len(data))
	}

	for i := 0; i < 8; i++ {
		j.JoinEUI[7-i] = data[i]
		j.DevEUI[7-i] = data[8+i]
	}
	j.DevNonce = uint16(data[16]) | uint16(data[17])<<8

	return nil
}

// MarshalBinary marshals a join request MAC payload
func (j *JoinRequestPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 18)
	for i := 0; i < 8; i++ {
		data[i] = j.JoinEUI[7-i]
		data[8+i] = j.DevEUI[7-i]
	}
	data[16] = byte(j.DevNonce)
	data[17] = byte(j.DevNonce >> 8)
	return data, nil
}
