package operators

import (
	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// Names returned when no rule applies.
const (
	Unknown = "Unknown"
	Private = "Private"
)

// netIDEntry maps a LoRa Alliance NetID to an operator name. The DevAddr
// prefix is derived from the NetID type encoded in its top 3 bits.
type netIDEntry struct {
	NetID uint32
	Name  string
}

// Curated subset of the public NetID allocations. Deployment-specific
// prefixes come from the config and the custom_operators table.
var netIDTable = []netIDEntry{
	{0x000000, "Experimental"},
	{0x000001, "Experimental"},
	{0x000002, "Actility"},
	{0x000003, "Proximus"},
	{0x000004, "Swisscom"},
	{0x000005, "Swisscom"},
	{0x000006, "SK Telecom"},
	{0x000007, "SagemCom"},
	{0x000008, "Kerlink"},
	{0x000009, "NNNCo"},
	{0x00000A, "Everynet"},
	{0x00000C, "Senet"},
	{0x00000F, "Orbiwise"},
	{0x000010, "SenRa"},
	{0x000011, "KPN"},
	{0x000012, "Multitech"},
	{0x000013, "The Things Network"},
	{0x000014, "Loriot"},
	{0x000015, "Cisco"},
	{0x000024, "Helium"},
}

// netIDPrefix derives the DevAddr prefix block assigned to a NetID. The
// NetID type (top 3 bits of the 24-bit value) fixes both the leading
// pattern and the NwkID width.
func netIDPrefix(netID uint32) (prefix uint32, bits int) {
	typ := (netID >> 21) & 0x07
	switch typ {
	case 0:
		return (netID & 0x3F) << 25, 7
	case 1:
		return 0x80000000 | (netID&0x3F)<<24, 8
	case 2:
		return 0xC0000000 | (netID&0x1FF)<<20, 12
	case 3:
		return 0xE0000000 | (netID&0x7FF)<<17, 15
	case 4:
		return 0xF0000000 | (netID&0xFFF)<<15, 17
	case 5:
		return 0xF8000000 | (netID&0x1FFF)<<13, 19
	case 6:
		return 0xFC000000 | (netID&0x7FFF)<<10, 22
	case 7:
		return 0xFE000000 | (netID&0x1FFFF)<<7, 25
	}
	return 0, 0
}

// staticRules expands the NetID table into operator rules at priority 0,
// so any custom rule outranks them.
func staticRules() []models.OperatorRule {
	rules := make([]models.OperatorRule, 0, len(netIDTable))
	for _, e := range netIDTable {
		prefix, bits := netIDPrefix(e.NetID)
		rules = append(rules, models.OperatorRule{
			Prefix:   prefix,
			Mask:     maskForBits(bits),
			Bits:     bits,
			Name:     e.Name,
			Priority: 0,
		})
	}
	return rules
}

// JoinEUIRule maps an uppercase hex JoinEUI prefix to a name.
type JoinEUIRule struct {
	Prefix string
	Name   string
}

// joinEUITable holds join-server prefixes: the TTN block plus well-known
// vendor OUIs that double as join servers.
var joinEUITable = []JoinEUIRule{
	{"70B3D57ED", "The Things Network"},
	{"70B3D5", "Semtech"},
	{"0004A3", "Microchip"},
	{"0080E1", "STMicroelectronics"},
	{"A84041", "Dragino"},
	{"647FDA", "Tektelic"},
	{"24E124", "Milesight"},
}
