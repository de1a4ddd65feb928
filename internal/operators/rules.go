package operators

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// ErrInvalidPrefix indicates a malformed DevAddr prefix expression
var ErrInvalidPrefix = errors.New("invalid operator prefix")

func maskForBits(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	if bits >= 32 {
		return 0xFFFFFFFF
	}
	return 0xFFFFFFFF << (32 - bits)
}

// ParsePrefix parses a DevAddr prefix expression of the form "26000000/7".
// The hex part may be shorter than 8 digits and is right-padded with zeros;
// a bare value without a length is an exact 32-bit match.
func ParsePrefix(s string) (prefix, mask uint32, bits int, err error) {
	hexPart := s
	bits = 32
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		hexPart = s[:idx]
		bits, err = strconv.Atoi(s[idx+1:])
		if err != nil || bits < 1 || bits > 32 {
			return 0, 0, 0, fmt.Errorf("%w: bad length in %q", ErrInvalidPrefix, s)
		}
	}
	if len(hexPart) < 1 || len(hexPart) > 8 {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidPrefix, s)
	}
	padded := hexPart + strings.Repeat("0", 8-len(hexPart))
	v, err := strconv.ParseUint(padded, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidPrefix, s)
	}
	mask = maskForBits(bits)
	return uint32(v) & mask, mask, bits, nil
}

// BuildRules merges the built-in NetID table with configured operators and
// store-managed custom operators into a single sorted rule set. The returned
// color map carries UI colors keyed by operator name.
func BuildRules(cfgOps []config.OperatorConfig, custom []models.CustomOperator) ([]models.OperatorRule, map[string]string, error) {
	rules := staticRules()
	colors := make(map[string]string)

	for _, op := range cfgOps {
		if op.Color != "" {
			colors[op.Name] = op.Color
		}
		for _, p := range op.Prefix {
			prefix, mask, bits, err := ParsePrefix(p)
			if err != nil {
				return nil, nil, fmt.Errorf("operator %q: %w", op.Name, err)
			}
			rules = append(rules, models.OperatorRule{
				Prefix:   prefix,
				Mask:     mask,
				Bits:     bits,
				Name:     op.Name,
				Priority: op.Priority,
				Color:    op.Color,
			})
		}
		// 已知设备按精确地址建 32 位规则
		for _, d := range op.KnownDevices {
			prefix, mask, bits, err := ParsePrefix(d)
			if err != nil || bits != 32 {
				return nil, nil, fmt.Errorf("operator %q known device %q: %w", op.Name, d, ErrInvalidPrefix)
			}
			rules = append(rules, models.OperatorRule{
				Prefix:   prefix,
				Mask:     mask,
				Bits:     bits,
				Name:     op.Name,
				Priority: op.Priority,
				Color:    op.Color,
			})
		}
	}

	for _, row := range custom {
		prefix, mask, bits, err := ParsePrefix(row.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("custom operator %q: %w", row.Name, err)
		}
		rules = append(rules, models.OperatorRule{
			Prefix:   prefix,
			Mask:     mask,
			Bits:     bits,
			Name:     row.Name,
			Priority: row.Priority,
			Color:    row.Color,
		})
		if row.Color != "" {
			colors[row.Name] = row.Color
		}
	}

	sortRules(rules)
	return rules, colors, nil
}

// sortRules orders rules so the first match wins: higher priority first,
// then longer prefixes. Equal rules keep their insertion order.
func sortRules(rules []models.OperatorRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Bits > rules[j].Bits
	})
}
