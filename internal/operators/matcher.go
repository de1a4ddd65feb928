// Package operators resolves DevAddr and JoinEUI values to network
// operator names using prefix rules merged from the built-in NetID table,
// the configuration file and the custom_operators table.
package operators

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// Matcher answers operator lookups against an immutable rule snapshot.
// Reload swaps the snapshot atomically, so lookups never block.
type Matcher struct {
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	devAddr []models.OperatorRule
	joinEUI []JoinEUIRule
	colors  map[string]string
}

// NewMatcher builds a matcher over the given rule set. An empty rule set
// resolves everything to Unknown.
func NewMatcher(rules []models.OperatorRule, colors map[string]string) *Matcher {
	m := &Matcher{}
	m.Reload(rules, colors)
	return m
}

// Reload replaces the active rule set. In-flight lookups finish against
// the old snapshot.
func (m *Matcher) Reload(rules []models.OperatorRule, colors map[string]string) {
	joinRules := make([]JoinEUIRule, len(joinEUITable))
	copy(joinRules, joinEUITable)
	sort.SliceStable(joinRules, func(i, j int) bool {
		return len(joinRules[i].Prefix) > len(joinRules[j].Prefix)
	})
	if colors == nil {
		colors = map[string]string{}
	}
	m.snap.Store(&snapshot{devAddr: rules, joinEUI: joinRules, colors: colors})
}

// MatchDevAddr resolves a device address to an operator name.
func (m *Matcher) MatchDevAddr(addr uint32) string {
	for _, r := range m.snap.Load().devAddr {
		if r.Matches(addr) {
			return r.Name
		}
	}
	return Unknown
}

// MatchDevAddrHex resolves an 8-digit hex device address. Unparseable
// input resolves to Unknown.
func (m *Matcher) MatchDevAddrHex(s string) string {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Unknown
	}
	return m.MatchDevAddr(uint32(v))
}

// MatchJoinEUI resolves a 16-digit hex JoinEUI. When no prefix rule
// applies, a JoinEUI made entirely of printable ASCII bytes is reported
// as Private since vendors hide real identities behind vanity strings.
func (m *Matcher) MatchJoinEUI(s string) string {
	s = strings.ToUpper(s)
	for _, r := range m.snap.Load().joinEUI {
		if strings.HasPrefix(s, r.Prefix) {
			return r.Name
		}
	}
	if isPrintableEUI(s) {
		return Private
	}
	return Unknown
}

func isPrintableEUI(s string) bool {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 8 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// Rules returns the active DevAddr rule set. Callers must not modify it.
func (m *Matcher) Rules() []models.OperatorRule {
	return m.snap.Load().devAddr
}

// Color returns the configured UI color for an operator, if any.
func (m *Matcher) Color(name string) string {
	return m.snap.Load().colors[name]
}

// Colors returns the active color map. Callers must not modify it.
func (m *Matcher) Colors() map[string]string {
	return m.snap.Load().colors
}
