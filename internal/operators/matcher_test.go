package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/models"
)

func newStaticMatcher(t *testing.T) *Matcher {
	t.Helper()
	rules, colors, err := BuildRules(nil, nil)
	require.NoError(t, err)
	return NewMatcher(rules, colors)
}

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		in     string
		prefix uint32
		mask   uint32
		bits   int
		ok     bool
	}{
		{"26000000/7", 0x26000000, 0xFE000000, 7, true},
		{"26/7", 0x26000000, 0xFE000000, 7, true},
		{"e0/8", 0xE0000000, 0xFF000000, 8, true},
		{"26011AAB", 0x26011AAB, 0xFFFFFFFF, 32, true},
		{"48000000/32", 0x48000000, 0xFFFFFFFF, 32, true},
		{"26FFFFFF/7", 0x26000000, 0xFE000000, 7, true}, // low bits normalized away
		{"", 0, 0, 0, false},
		{"/7", 0, 0, 0, false},
		{"XYZ/4", 0, 0, 0, false},
		{"26000000/0", 0, 0, 0, false},
		{"26000000/33", 0, 0, 0, false},
		{"123456789/4", 0, 0, 0, false},
	}
	for _, tt := range tests {
		prefix, mask, bits, err := ParsePrefix(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidPrefix, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.prefix, prefix, "prefix for %q", tt.in)
		assert.Equal(t, tt.mask, mask, "mask for %q", tt.in)
		assert.Equal(t, tt.bits, bits, "bits for %q", tt.in)
	}
}

func TestMatchDevAddrStaticTable(t *testing.T) {
	m := newStaticMatcher(t)

	tests := []struct {
		addr uint32
		want string
	}{
		{0x26011AAB, "The Things Network"}, // NetID 0x13 block covers 26..27
		{0x27FFFFFF, "The Things Network"},
		{0x48ABCDEF, "Helium"},
		{0x00112233, "Experimental"},
		{0x04000001, "Actility"},
		{0x5A000000, Unknown},
		{0xFFFFFFFF, Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.MatchDevAddr(tt.addr), "addr %08X", tt.addr)
	}

	assert.Equal(t, "The Things Network", m.MatchDevAddrHex("26011AAB"))
	assert.Equal(t, Unknown, m.MatchDevAddrHex("not-hex"))
}

func TestMatchPrecedence(t *testing.T) {
	cfgOps := []config.OperatorConfig{
		{Name: "Alpha", Priority: 100, Prefix: config.StringList{"E0000000/4"}, KnownDevices: []string{"E0112233"}},
		{Name: "Beta", Priority: 100, Prefix: config.StringList{"E0000000/4"}},
	}
	custom := []models.CustomOperator{
		{Name: "Gamma", Prefix: "E1/8", Priority: 200},
	}
	rules, colors, err := BuildRules(cfgOps, custom)
	require.NoError(t, err)
	m := NewMatcher(rules, colors)

	// higher priority wins regardless of prefix length
	assert.Equal(t, "Gamma", m.MatchDevAddr(0xE1000001))
	// equal priority: the exact 32-bit known-device rule beats the /4 block
	assert.Equal(t, "Alpha", m.MatchDevAddr(0xE0112233))
	// equal priority and equal length: first configured wins
	assert.Equal(t, "Alpha", m.MatchDevAddr(0xE0FFFFFF))
	// built-in table still applies outside custom blocks
	assert.Equal(t, "The Things Network", m.MatchDevAddr(0x26011AAB))
}

func TestMatchJoinEUI(t *testing.T) {
	m := newStaticMatcher(t)

	tests := []struct {
		eui  string
		want string
	}{
		{"70B3D57ED0000001", "The Things Network"},
		{"70B3D500AA000001", "Semtech"}, // longer TTN prefix does not swallow the vendor block
		{"0004A3FFFE112233", "Microchip"},
		{"24E124FFFE000001", "Milesight"},
		{"4C6F526157414E21", Private}, // "LoRaWaN!" in ASCII
		{"FFEEDDCCBBAA0099", Unknown},
		{"70b3d57ed0000001", "The Things Network"}, // case-insensitive
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.MatchJoinEUI(tt.eui), "eui %s", tt.eui)
	}
}

func TestBuildRulesColors(t *testing.T) {
	cfgOps := []config.OperatorConfig{
		{Name: "Helium", Color: "#474DFF"}, // color-only entry recolors a built-in
		{Name: "Campus", Priority: 50, Prefix: config.StringList{"FC00/16"}, Color: "#00FF00"},
	}
	custom := []models.CustomOperator{
		{Name: "Lab", Prefix: "FD000000/8", Priority: 10, Color: "#123456"},
	}
	rules, colors, err := BuildRules(cfgOps, custom)
	require.NoError(t, err)

	m := NewMatcher(rules, colors)
	assert.Equal(t, "#474DFF", m.Color("Helium"))
	assert.Equal(t, "#00FF00", m.Color("Campus"))
	assert.Equal(t, "#123456", m.Color("Lab"))
	assert.Equal(t, "", m.Color("The Things Network"))

	// the color-only entry contributes no rule
	for _, r := range rules {
		if r.Name == "Helium" {
			assert.Equal(t, 0, r.Priority, "only the built-in Helium rule should exist")
		}
	}

	assert.Equal(t, "Campus", m.MatchDevAddr(0xFC000001))
	assert.Equal(t, "Lab", m.MatchDevAddr(0xFD000001))
}

func TestBuildRulesRejectsBadPrefix(t *testing.T) {
	_, _, err := BuildRules([]config.OperatorConfig{
		{Name: "Broken", Prefix: config.StringList{"ZZ/4"}},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrefix)

	_, _, err = BuildRules([]config.OperatorConfig{
		{Name: "Short", KnownDevices: []string{"26/7"}},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestReloadSwapsRules(t *testing.T) {
	m := NewMatcher(nil, nil)
	assert.Equal(t, Unknown, m.MatchDevAddr(0x26011AAB))

	rules, colors, err := BuildRules(nil, nil)
	require.NoError(t, err)
	m.Reload(rules, colors)
	assert.Equal(t, "The Things Network", m.MatchDevAddr(0x26011AAB))
}
