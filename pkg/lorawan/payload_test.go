package lorawan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDataFrame(t *testing.T, mtype MType, addr DevAddr, fcnt uint16, fport uint8, payload []byte) []byte {
	t.Helper()

	mac := MACPayload{
		FHDR: FHDR{
			DevAddr: addr,
			FCnt:    fcnt,
		},
		FPort:      &fport,
		FRMPayload: payload,
	}
	macBytes, err := mac.Marshal(mtype)
	require.NoError(t, err)

	phy := PHYPayload{
		MHDR:       MHDR{MType: mtype, Major: LoRaWAN1_0},
		MACPayload: macBytes,
	}
	data, err := phy.MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestParseFrameUnconfirmedDataUp(t *testing.T) {
	addr := DevAddr{0x26, 0x01, 0x1A, 0xAB}
	data := buildDataFrame(t, UnconfirmedDataUp, addr, 1234, 10, []byte{0xDE, 0xAD})

	f, err := ParseFrame(data)
	require.NoError(t, err)

	assert.Equal(t, UnconfirmedDataUp, f.MType)
	require.NotNil(t, f.DevAddr)
	assert.Equal(t, "26011AAB", f.DevAddr.String())
	assert.Equal(t, uint16(1234), f.FCnt)
	require.NotNil(t, f.FPort)
	assert.Equal(t, uint8(10), *f.FPort)
	require.NotNil(t, f.Confirmed)
	assert.False(t, *f.Confirmed)
	assert.Nil(t, f.JoinEUI)
	assert.Nil(t, f.DevEUI)
}

func TestParseFrameConfirmedDataUp(t *testing.T) {
	addr := DevAddr{0x01, 0x02, 0x03, 0x04}
	data := buildDataFrame(t, ConfirmedDataUp, addr, 7, 1, nil)

	f, err := ParseFrame(data)
	require.NoError(t, err)
	require.NotNil(t, f.Confirmed)
	assert.True(t, *f.Confirmed)
}

func TestParseFrameJoinRequest(t *testing.T) {
	var joinEUI, devEUI EUI64
	require.NoError(t, joinEUI.UnmarshalText("70B3D57ED0000001"))
	require.NoError(t, devEUI.UnmarshalText("0004A30B001C0530"))

	jr := JoinRequestPayload{JoinEUI: joinEUI, DevEUI: devEUI, DevNonce: 0x1234}
	macBytes, err := jr.MarshalBinary()
	require.NoError(t, err)

	phy := PHYPayload{
		MHDR:       MHDR{MType: JoinRequest, Major: LoRaWAN1_0},
		MACPayload: macBytes,
	}
	data, err := phy.MarshalBinary()
	require.NoError(t, err)

	f, err := ParseFrame(data)
	require.NoError(t, err)

	assert.Equal(t, JoinRequest, f.MType)
	require.NotNil(t, f.JoinEUI)
	assert.Equal(t, "70B3D57ED0000001", f.JoinEUI.String())
	require.NotNil(t, f.DevEUI)
	assert.Equal(t, "0004A30B001C0530", f.DevEUI.String())
	assert.Nil(t, f.DevAddr)
	assert.Nil(t, f.Confirmed)
}

func TestParseFrameMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"mhdr only", []byte{0x40}},
		{"data frame short mac", []byte{0x40, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}},
		{"join request wrong length", []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame(tt.data)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("ParseFrame() error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestParseFrameJoinAccept(t *testing.T) {
	// Encrypted join accept body; only the type is extracted.
	data := []byte{0x20, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0xAA, 0xBB, 0xCC, 0xDD}
	f, err := ParseFrame(data)
	require.NoError(t, err)
	assert.Equal(t, JoinAccept, f.MType)
	assert.Nil(t, f.DevAddr)
	assert.Nil(t, f.Confirmed)
}

func TestMACPayloadFOptsRoundTrip(t *testing.T) {
	fport := uint8(2)
	mac := MACPayload{
		FHDR: FHDR{
			DevAddr: DevAddr{0x48, 0x00, 0x00, 0x01},
			FCtrl:   FCtrl{ADR: true},
			FCnt:    99,
			FOpts:   []byte{0x02, 0x30, 0x01},
		},
		FPort:      &fport,
		FRMPayload: []byte{0x01},
	}

	data, err := mac.Marshal(UnconfirmedDataUp)
	require.NoError(t, err)

	var out MACPayload
	require.NoError(t, out.Unmarshal(data, UnconfirmedDataUp))

	assert.Equal(t, mac.FHDR.DevAddr, out.FHDR.DevAddr)
	assert.Equal(t, mac.FHDR.FCnt, out.FHDR.FCnt)
	assert.Equal(t, mac.FHDR.FOpts, out.FHDR.FOpts)
	assert.True(t, out.FHDR.FCtrl.ADR)
	require.NotNil(t, out.FPort)
	assert.Equal(t, fport, *out.FPort)
	assert.Equal(t, mac.FRMPayload, out.FRMPayload)
}

func TestDevAddrUint32(t *testing.T) {
	addr := DevAddr{0x26, 0x01, 0x1A, 0xAB}
	if got := addr.Uint32(); got != 0x26011AAB {
		t.Errorf("Uint32() = %08X, want 26011AAB", got)
	}
}

func TestMTypeIsUplink(t *testing.T) {
	uplinks := []MType{JoinRequest, UnconfirmedDataUp, ConfirmedDataUp, RejoinRequest}
	downlinks := []MType{JoinAccept, UnconfirmedDataDown, ConfirmedDataDown}

	for _, m := range uplinks {
		assert.True(t, m.IsUplink(), m.String())
	}
	for _, m := range downlinks {
		assert.False(t, m.IsUplink(), m.String())
	}
}
