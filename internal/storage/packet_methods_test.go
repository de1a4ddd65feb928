package storage

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

func TestBuildPacketWhereEmpty(t *testing.T) {
	where, args := buildPacketWhere(PacketQuery{})

	assert.Equal(t, "1=1", where)
	assert.Empty(t, args)
}

func TestBuildPacketWhereFilters(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	rssiMin := -120

	where, args := buildPacketWhere(PacketQuery{
		GatewayID: "aa555a0000000000",
		DevAddr:   "26011aab",
		Operator:  "The Things Network",
		Types:     []models.PacketType{models.PacketData, models.PacketJoinRequest},
		Since:     since,
		Until:     until,
		RSSIMin:   &rssiMin,
	})

	assert.Equal(t,
		"1=1 AND gateway_id = $1 AND dev_addr = $2 AND operator = $3"+
			" AND packet_type = ANY($4) AND timestamp >= $5 AND timestamp < $6 AND rssi >= $7",
		where)
	require.Len(t, args, 7)
	assert.Equal(t, "aa555a0000000000", args[0])
	assert.Equal(t, "26011AAB", args[1])
	assert.Equal(t, "The Things Network", args[2])
	assert.Equal(t, pq.Array([]string{"data", "join_request"}), args[3])
	assert.Equal(t, since, args[4])
	assert.Equal(t, until, args[5])
	assert.Equal(t, -120, args[6])
}

func TestBuildPacketWherePrefix(t *testing.T) {
	where, args := buildPacketWhere(PacketQuery{
		Prefix: &PrefixFilter{Prefix: 0x26000000, Mask: 0xFE000000},
	})

	assert.Equal(t, "1=1 AND (dev_addr IS NOT NULL AND (dev_addr_uint32(dev_addr) & $1) = $2)", where)
	require.Len(t, args, 2)
	assert.Equal(t, int64(0xFE000000), args[0])
	assert.Equal(t, int64(0x26000000), args[1])
}

func TestBuildPacketWhereHideRules(t *testing.T) {
	where, args := buildPacketWhere(PacketQuery{
		Hide: []models.HideRule{
			{Type: models.HideRuleDevAddr, Prefix: "FC00/9"},
			{Type: models.HideRuleJoinEUI, Prefix: "70b3d57ed"},
			{Type: models.HideRuleDevAddr, Prefix: "not-hex!!"},
			{Type: "bogus", Prefix: "26000000/7"},
		},
	})

	// the malformed rule and the unknown type are skipped
	assert.Equal(t,
		"1=1 AND (dev_addr IS NULL OR (dev_addr_uint32(dev_addr) & $1) <> $2)"+
			" AND (join_eui IS NULL OR join_eui NOT LIKE $3)",
		where)
	require.Len(t, args, 3)
	assert.Equal(t, int64(0xFF800000), args[0])
	assert.Equal(t, int64(0xFC000000), args[1])
	assert.Equal(t, "70B3D57ED%", args[2])
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullStr(""))
	assert.Equal(t, "x", nullStr("x"))
	assert.Nil(t, nullSF(0))
	assert.Equal(t, 7, nullSF(7))
}
