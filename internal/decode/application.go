package decode

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// appEventJSON covers the union of the application-bus event bodies. The
// network server publishes these as JSON only.
type appEventJSON struct {
	DeviceInfo struct {
		DevEUI          string `json:"devEui"`
		DeviceName      string `json:"deviceName"`
		ApplicationID   string `json:"applicationId"`
		ApplicationName string `json:"applicationName"`
	} `json:"deviceInfo"`
	DevAddr   string         `json:"devAddr"`
	Data      []byte         `json:"data"`
	FCnt      *uint32        `json:"fCnt"`
	FCntDown  *uint32        `json:"fCntDown"`
	FPort     *uint8         `json:"fPort"`
	Confirmed *bool          `json:"confirmed"`
	RxInfo    []uplinkRxJSON `json:"rxInfo"`
	TxInfo    *txInfoJSON    `json:"txInfo"`
	Ack       *bool          `json:"acknowledged"`
}

// AppEventFromJSON decodes an application-bus event body. kind comes from
// the topic classifier.
func AppEventFromJSON(kind models.AppEventKind, data []byte) (*models.AppEvent, error) {
	var raw appEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("application %s json: %w", kind, err)
	}
	if raw.DeviceInfo.DevEUI == "" {
		return nil, errors.New("application event: missing device EUI")
	}

	ev := &models.AppEvent{
		Kind:            kind,
		DevEUI:          raw.DeviceInfo.DevEUI,
		DevAddr:         raw.DevAddr,
		DeviceName:      raw.DeviceInfo.DeviceName,
		ApplicationID:   raw.DeviceInfo.ApplicationID,
		ApplicationName: raw.DeviceInfo.ApplicationName,
		PayloadSize:     len(raw.Data),
		FCnt:            raw.FCnt,
		FPort:           raw.FPort,
		Confirmed:       raw.Confirmed,
	}

	if len(raw.RxInfo) > 0 {
		ev.RSSI = int(raw.RxInfo[0].RSSI)
		ev.SNR = float64(raw.RxInfo[0].SNR)
	}
	if raw.TxInfo != nil {
		ev.Frequency = int64(raw.TxInfo.Frequency)
		if raw.TxInfo.Modulation != nil && raw.TxInfo.Modulation.Lora != nil {
			ev.SpreadingFactor = int(raw.TxInfo.Modulation.Lora.SpreadingFactor)
			ev.Bandwidth = int(raw.TxInfo.Modulation.Lora.Bandwidth)
		}
	}

	switch kind {
	case models.AppEventTxAck:
		ev.Status = "OK"
		if ev.FCnt == nil {
			ev.FCnt = raw.FCntDown
		}
	case models.AppEventAck:
		ev.Status = "NACK"
		if raw.Ack != nil && *raw.Ack {
			ev.Status = "ACK"
		}
	}
	return ev, nil
}

// appDownCommandJSON is the enqueue-downlink command body. Unlike events
// it carries the device EUI at the top level, when at all.
type appDownCommandJSON struct {
	DevEUI    string  `json:"devEui"`
	Confirmed *bool   `json:"confirmed"`
	FPort     *uint8  `json:"fPort"`
	Data      []byte  `json:"data"`
	FCnt      *uint32 `json:"fCnt"`
}

// DownCommandFromJSON decodes a command/down body. The device EUI may be
// absent; callers fall back to the topic segment.
func DownCommandFromJSON(data []byte) (*models.AppEvent, error) {
	var raw appDownCommandJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("application down command json: %w", err)
	}
	return &models.AppEvent{
		Kind:        models.AppEventDownlink,
		DevEUI:      raw.DevEUI,
		PayloadSize: len(raw.Data),
		FPort:       raw.FPort,
		Confirmed:   raw.Confirmed,
		FCnt:        raw.FCnt,
	}, nil
}
