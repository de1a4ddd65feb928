// Package decode turns raw broker payloads into typed events. Gateway
// events arrive as ChirpStack gateway-bridge protobuf (or JSON with the
// same shape); application events are always JSON.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// Field numbers of the gw.proto messages the analyzer reads. Everything
// not listed is skipped by wire type.
const (
	uplinkPhyPayloadField = 1
	uplinkTxInfoField     = 4
	uplinkRxInfoField     = 5

	txInfoFrequencyField  = 1
	txInfoModulationField = 2
	modulationLoraField   = 3

	loraBandwidthField       = 1
	loraSpreadingFactorField = 2
	loraCodeRateLegacyField  = 3
	loraCodeRateField        = 5

	rxInfoGatewayIDField = 1
	rxInfoRSSIField      = 7
	rxInfoSNRField       = 8
	rxInfoLocationField  = 13
	rxInfoMetadataField  = 15

	locationLatitudeField  = 1
	locationLongitudeField = 2
	locationAltitudeField  = 3

	downlinkIDField        = 1
	downlinkItemsField     = 3
	downlinkGatewayIDField = 5

	downlinkItemPhyPayloadField = 1
	downlinkItemTxInfoField     = 3

	downlinkTxFrequencyField  = 1
	downlinkTxModulationField = 3

	txAckGatewayIDLegacyField = 1
	txAckDownlinkIDField      = 2
	txAckItemsField           = 3
	txAckGatewayIDField       = 5
	txAckItemStatusField      = 1

	mapKeyField   = 1
	mapValueField = 2
)

// Metadata keys carried by Helium-style bridges.
const (
	metaGatewayLat  = "gateway_lat"
	metaGatewayLong = "gateway_long"
	metaGatewayName = "gateway_name"
	metaRelayID     = "relay_id"
)

// txAckStatuses maps the gw.proto TxAckStatus enum to the names stored in
// packet rows. The snake names cover the JSON encoding of the same enum.
var txAckStatuses = []struct {
	code  uint64
	snake string
	name  string
}{
	{0, "IGNORED", "Ignored"},
	{1, "OK", "OK"},
	{2, "TOO_LATE", "TooLate"},
	{3, "TOO_EARLY", "TooEarly"},
	{4, "COLLISION_PACKET", "CollisionPacket"},
	{5, "COLLISION_BEACON", "CollisionBeacon"},
	{6, "TX_FREQ", "TxFreq"},
	{7, "TX_POWER", "TxPower"},
	{8, "GPS_UNLOCKED", "GpsUnlocked"},
	{9, "QUEUE_FULL", "QueueFull"},
	{10, "INTERNAL_ERROR", "InternalError"},
	{11, "DUTY_CYCLE_OVERFLOW", "DutyCycleOverflow"},
}

func txAckStatusByCode(code uint64) string {
	for _, s := range txAckStatuses {
		if s.code == code {
			return s.name
		}
	}
	return fmt.Sprintf("Status%d", code)
}

// TxAckStatusName normalizes a SCREAMING_SNAKE status string to its stored
// CamelCase form. Unknown statuses are camelized generically.
func TxAckStatusName(snake string) string {
	up := strings.ToUpper(snake)
	for _, s := range txAckStatuses {
		if s.snake == up {
			return s.name
		}
	}
	var b strings.Builder
	for _, part := range strings.Split(strings.ToLower(snake), "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// UplinkFromProto decodes a gateway-bridge up event from protobuf wire
// bytes.
func UplinkFromProto(data []byte) (*models.GatewayUplink, error) {
	msg, err := parseMessage(data)
	if err != nil {
		return nil, fmt.Errorf("gateway uplink: %w", err)
	}

	up := &models.GatewayUplink{PHYPayload: msg.bytesVal(uplinkPhyPayloadField)}
	if len(up.PHYPayload) == 0 {
		return nil, errors.New("gateway uplink: missing phy payload")
	}

	txInfo, err := msg.subMessage(uplinkTxInfoField)
	if err != nil {
		return nil, fmt.Errorf("gateway uplink tx info: %w", err)
	}
	if txInfo != nil {
		up.Frequency = int64(txInfo.uintVal(txInfoFrequencyField))
		if err := readLoraModulation(txInfo, txInfoModulationField, &up.SpreadingFactor, &up.Bandwidth, &up.CodeRate); err != nil {
			return nil, fmt.Errorf("gateway uplink modulation: %w", err)
		}
	}

	rxInfo, err := msg.subMessage(uplinkRxInfoField)
	if err != nil {
		return nil, fmt.Errorf("gateway uplink rx info: %w", err)
	}
	if rxInfo != nil {
		up.GatewayID = rxInfo.stringVal(rxInfoGatewayIDField)
		up.RSSI = int(rxInfo.int32Val(rxInfoRSSIField))
		up.SNR = float64(rxInfo.float32Val(rxInfoSNRField))

		loc, err := rxInfo.subMessage(rxInfoLocationField)
		if err != nil {
			return nil, fmt.Errorf("gateway uplink location: %w", err)
		}
		if loc != nil {
			up.Location = &models.Location{
				Latitude:  loc.float64Val(locationLatitudeField),
				Longitude: loc.float64Val(locationLongitudeField),
				Altitude:  loc.float64Val(locationAltitudeField),
			}
		}
		applyRxMetadata(up, rxInfo.stringMap(rxInfoMetadataField))
	}
	return up, nil
}

// readLoraModulation pulls SF/BW/code-rate out of a Modulation field. FSK
// and LR-FHSS modulations leave the outputs at zero.
func readLoraModulation(parent pbMessage, num protowire.Number, sf, bw *int, cr *string) error {
	mod, err := parent.subMessage(num)
	if err != nil || mod == nil {
		return err
	}
	lora, err := mod.subMessage(modulationLoraField)
	if err != nil || lora == nil {
		return err
	}
	*bw = int(lora.uintVal(loraBandwidthField))
	*sf = int(lora.uintVal(loraSpreadingFactorField))
	if s := lora.stringVal(loraCodeRateLegacyField); s != "" {
		*cr = codeRateString(s)
	} else if v := lora.uintVal(loraCodeRateField); v != 0 {
		*cr = codeRateFromEnum(v)
	}
	return nil
}

// codeRateFromEnum maps the gw.proto CodeRate enum to "4/x" strings.
func codeRateFromEnum(v uint64) string {
	switch v {
	case 1:
		return "4/5"
	case 2:
		return "4/6"
	case 3:
		return "4/7"
	case 4:
		return "4/8"
	}
	return ""
}

// codeRateString normalizes either "4/5" or the enum name "CR_4_5".
func codeRateString(s string) string {
	if strings.HasPrefix(s, "CR_") {
		return strings.ReplaceAll(strings.TrimPrefix(s, "CR_"), "_", "/")
	}
	return s
}

func applyRxMetadata(up *models.GatewayUplink, md map[string]string) {
	if len(md) == 0 {
		return
	}
	if up.Location == nil {
		lat, latErr := strconv.ParseFloat(md[metaGatewayLat], 64)
		lon, lonErr := strconv.ParseFloat(md[metaGatewayLong], 64)
		if latErr == nil && lonErr == nil {
			up.Location = &models.Location{Latitude: lat, Longitude: lon}
		}
	}
	if name := md[metaGatewayName]; name != "" {
		up.GatewayName = name
	}
	if relay := md[metaRelayID]; relay != "" {
		up.RelayID = relay
	}
}

// DownlinkFromProto decodes a gateway-bridge down event. Only the first
// downlink item is read; the alternatives carry the same payload with
// different radio settings.
func DownlinkFromProto(data []byte) (*models.GatewayDownlink, error) {
	msg, err := parseMessage(data)
	if err != nil {
		return nil, fmt.Errorf("gateway downlink: %w", err)
	}

	down := &models.GatewayDownlink{GatewayID: msg.stringVal(downlinkGatewayIDField)}
	items, err := msg.subMessages(downlinkItemsField)
	if err != nil {
		return nil, fmt.Errorf("gateway downlink items: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("gateway downlink: no items")
	}
	item := items[0]
	down.PHYPayload = item.bytesVal(downlinkItemPhyPayloadField)

	txInfo, err := item.subMessage(downlinkItemTxInfoField)
	if err != nil {
		return nil, fmt.Errorf("gateway downlink tx info: %w", err)
	}
	if txInfo != nil {
		down.Frequency = int64(txInfo.uintVal(downlinkTxFrequencyField))
		if err := readLoraModulation(txInfo, downlinkTxModulationField, &down.SpreadingFactor, &down.Bandwidth, &down.CodeRate); err != nil {
			return nil, fmt.Errorf("gateway downlink modulation: %w", err)
		}
	}
	return down, nil
}

// TxAckFromProto decodes a gateway-bridge ack event.
func TxAckFromProto(data []byte) (*models.GatewayTxAck, error) {
	msg, err := parseMessage(data)
	if err != nil {
		return nil, fmt.Errorf("gateway tx ack: %w", err)
	}

	ack := &models.GatewayTxAck{
		GatewayID:  msg.stringVal(txAckGatewayIDField),
		DownlinkID: uint32(msg.uintVal(txAckDownlinkIDField)),
		Status:     "OK",
	}
	if ack.GatewayID == "" {
		ack.GatewayID = msg.stringVal(txAckGatewayIDLegacyField)
	}
	items, err := msg.subMessages(txAckItemsField)
	if err != nil {
		return nil, fmt.Errorf("gateway tx ack items: %w", err)
	}
	if len(items) > 0 {
		ack.Status = txAckStatusByCode(items[0].uintVal(txAckItemStatusField))
	}
	return ack, nil
}

// JSON forms of the same events. Numeric fields tolerate string encoding
// since some bridges quote numbers.

type gatewayUplinkJSON struct {
	PhyPayload []byte         `json:"phyPayload"`
	TxInfo     *txInfoJSON    `json:"txInfo"`
	RxInfo     *uplinkRxJSON  `json:"rxInfo"`
	RxInfoList []uplinkRxJSON `json:"rxInfoList"`
}

type txInfoJSON struct {
	Frequency  flexInt         `json:"frequency"`
	Modulation *modulationJSON `json:"modulation"`
}

type modulationJSON struct {
	Lora *loraModulationJSON `json:"lora"`
}

type loraModulationJSON struct {
	Bandwidth       flexInt `json:"bandwidth"`
	SpreadingFactor flexInt `json:"spreadingFactor"`
	CodeRate        string  `json:"codeRate"`
}

type uplinkRxJSON struct {
	GatewayID string            `json:"gatewayId"`
	RSSI      flexInt           `json:"rssi"`
	SNR       flexFloat         `json:"snr"`
	Location  *locationJSON     `json:"location"`
	Metadata  map[string]string `json:"metadata"`
}

type locationJSON struct {
	Latitude  flexFloat `json:"latitude"`
	Longitude flexFloat `json:"longitude"`
	Altitude  flexFloat `json:"altitude"`
}

// UplinkFromJSON decodes the JSON encoding of a gateway-bridge up event.
func UplinkFromJSON(data []byte) (*models.GatewayUplink, error) {
	var raw gatewayUplinkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("gateway uplink json: %w", err)
	}
	if len(raw.PhyPayload) == 0 {
		return nil, errors.New("gateway uplink json: missing phy payload")
	}

	up := &models.GatewayUplink{PHYPayload: raw.PhyPayload}
	if raw.TxInfo != nil {
		up.Frequency = int64(raw.TxInfo.Frequency)
		if raw.TxInfo.Modulation != nil && raw.TxInfo.Modulation.Lora != nil {
			lora := raw.TxInfo.Modulation.Lora
			up.Bandwidth = int(lora.Bandwidth)
			up.SpreadingFactor = int(lora.SpreadingFactor)
			up.CodeRate = codeRateString(lora.CodeRate)
		}
	}
	rx := raw.RxInfo
	if rx == nil && len(raw.RxInfoList) > 0 {
		rx = &raw.RxInfoList[0]
	}
	if rx != nil {
		up.GatewayID = rx.GatewayID
		up.RSSI = int(rx.RSSI)
		up.SNR = float64(rx.SNR)
		if rx.Location != nil {
			up.Location = &models.Location{
				Latitude:  float64(rx.Location.Latitude),
				Longitude: float64(rx.Location.Longitude),
				Altitude:  float64(rx.Location.Altitude),
			}
		}
		applyRxMetadata(up, rx.Metadata)
	}
	return up, nil
}

type gatewayDownlinkJSON struct {
	DownlinkID flexInt            `json:"downlinkId"`
	GatewayID  string             `json:"gatewayId"`
	Items      []downlinkItemJSON `json:"items"`
}

type downlinkItemJSON struct {
	PhyPayload []byte      `json:"phyPayload"`
	TxInfo     *txInfoJSON `json:"txInfo"`
}

// DownlinkFromJSON decodes the JSON encoding of a gateway-bridge down
// event.
func DownlinkFromJSON(data []byte) (*models.GatewayDownlink, error) {
	var raw gatewayDownlinkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("gateway downlink json: %w", err)
	}
	if len(raw.Items) == 0 {
		return nil, errors.New("gateway downlink json: no items")
	}

	down := &models.GatewayDownlink{
		GatewayID:  raw.GatewayID,
		PHYPayload: raw.Items[0].PhyPayload,
	}
	if tx := raw.Items[0].TxInfo; tx != nil {
		down.Frequency = int64(tx.Frequency)
		if tx.Modulation != nil && tx.Modulation.Lora != nil {
			down.Bandwidth = int(tx.Modulation.Lora.Bandwidth)
			down.SpreadingFactor = int(tx.Modulation.Lora.SpreadingFactor)
			down.CodeRate = codeRateString(tx.Modulation.Lora.CodeRate)
		}
	}
	return down, nil
}

type gatewayTxAckJSON struct {
	GatewayID  string `json:"gatewayId"`
	DownlinkID uint32 `json:"downlinkId"`
	Items      []struct {
		Status string `json:"status"`
	} `json:"items"`
}

// TxAckFromJSON decodes the JSON encoding of a gateway-bridge ack event.
func TxAckFromJSON(data []byte) (*models.GatewayTxAck, error) {
	var raw gatewayTxAckJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("gateway tx ack json: %w", err)
	}
	ack := &models.GatewayTxAck{
		GatewayID:  raw.GatewayID,
		DownlinkID: raw.DownlinkID,
		Status:     "OK",
	}
	if len(raw.Items) > 0 && raw.Items[0].Status != "" {
		ack.Status = TxAckStatusName(raw.Items[0].Status)
	}
	return ack, nil
}
