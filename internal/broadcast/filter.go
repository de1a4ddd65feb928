package broadcast

import (
	"strconv"
	"strings"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// Source modes select which pipeline a subscriber listens to.
const (
	SourceGateway    = "gateway"
	SourceChirpstack = "chirpstack"
)

// Filter modes for DevAddr ownership.
const (
	FilterOwned   = "owned"
	FilterForeign = "foreign"
)

// Prefix is a DevAddr block used by the ownership predicate.
type Prefix struct {
	Prefix uint32
	Mask   uint32
}

// Filter is a compiled subscriber filter. Zero fields mean "not filtered".
// Search must be lowercased by the constructor.
type Filter struct {
	GatewayID  string
	GatewayIDs map[string]bool
	Types      map[string]bool
	RSSIMin    *int
	RSSIMax    *int
	FilterMode string
	Prefixes   []Prefix
	Search     string
	SourceMode string
}

// Matches evaluates every predicate against a rendered live packet.
// alias and group come from the gateway metadata cache; they extend the
// search surface but are not part of the wire form.
func (f *Filter) Matches(lp *models.LivePacket, alias, group string) bool {
	if f.GatewayID != "" && lp.GatewayID != f.GatewayID {
		return false
	}
	if len(f.GatewayIDs) > 0 && !f.GatewayIDs[lp.GatewayID] {
		return false
	}
	if len(f.Types) > 0 && !f.Types[lp.Type] {
		return false
	}

	// radio quality only means something on uplinks
	if lp.Type == string(models.PacketData) || lp.Type == string(models.PacketJoinRequest) {
		if f.RSSIMin != nil && lp.RSSI < *f.RSSIMin {
			return false
		}
		if f.RSSIMax != nil && lp.RSSI > *f.RSSIMax {
			return false
		}
	}

	// ownership applies to data packets; everything else passes through
	if f.FilterMode != "" && len(f.Prefixes) > 0 && lp.Type == string(models.PacketData) {
		owned := f.ownsAddr(lp.DevAddr)
		if f.FilterMode == FilterOwned && !owned {
			return false
		}
		if f.FilterMode == FilterForeign && owned {
			return false
		}
	}

	if f.Search != "" {
		if !anyContainsFold(f.Search,
			lp.GatewayID, lp.GatewayName, alias, group,
			lp.Operator, lp.DevAddr, lp.DevEUI, lp.JoinEUI) {
			return false
		}
	}
	return true
}

func (f *Filter) ownsAddr(devAddr string) bool {
	if devAddr == "" {
		return false
	}
	v, err := strconv.ParseUint(devAddr, 16, 32)
	if err != nil {
		return false
	}
	addr := uint32(v)
	for _, p := range f.Prefixes {
		if addr&p.Mask == p.Prefix {
			return true
		}
	}
	return false
}

func anyContainsFold(needle string, haystacks ...string) bool {
	for _, h := range haystacks {
		if h == "" {
			continue
		}
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}
