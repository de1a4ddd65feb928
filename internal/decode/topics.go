package decode

import (
	"strings"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// TopicKind classifies an MQTT topic by shape.
type TopicKind int

const (
	TopicUnknown TopicKind = iota
	TopicGatewayUp
	TopicGatewayDown
	TopicGatewayAck
	TopicGatewayStats
	TopicAppEvent
	TopicAppCommandDown
)

// TopicInfo is the result of classifying a topic.
type TopicInfo struct {
	Kind          TopicKind
	GatewayID     string
	ApplicationID string
	DevEUI        string

	// AppKind is set for TopicAppEvent
	AppKind models.AppEventKind
}

// ClassifyTopic matches the two topic families the analyzer subscribes to:
//
//	[region/]gateway/{id}/event/{up|down|ack|stats}
//	application/{appId}/device/{devEui}/event/{up|txack|ack}
//	application/{appId}/device/{devEui}/command/down
//
// Gateway topics may carry a region prefix of any depth. Everything else
// is TopicUnknown.
func ClassifyTopic(topic string) TopicInfo {
	parts := strings.Split(topic, "/")

	if len(parts) == 6 && parts[0] == "application" && parts[2] == "device" {
		switch {
		case parts[4] == "event":
			switch parts[5] {
			case "up", "txack", "ack":
				return TopicInfo{
					Kind:          TopicAppEvent,
					ApplicationID: parts[1],
					DevEUI:        strings.ToUpper(parts[3]),
					AppKind:       models.AppEventKind(parts[5]),
				}
			}
		case parts[4] == "command" && parts[5] == "down":
			return TopicInfo{
				Kind:          TopicAppCommandDown,
				ApplicationID: parts[1],
				DevEUI:        strings.ToUpper(parts[3]),
			}
		}
		return TopicInfo{Kind: TopicUnknown}
	}

	// gateway segment may sit behind a region prefix
	for i := 0; i+3 < len(parts); i++ {
		if parts[i] != "gateway" || parts[i+2] != "event" || i+3 != len(parts)-1 {
			continue
		}
		info := TopicInfo{GatewayID: strings.ToLower(parts[i+1])}
		switch parts[i+3] {
		case "up":
			info.Kind = TopicGatewayUp
		case "down":
			info.Kind = TopicGatewayDown
		case "ack":
			info.Kind = TopicGatewayAck
		case "stats":
			info.Kind = TopicGatewayStats
		default:
			return TopicInfo{Kind: TopicUnknown}
		}
		return info
	}
	return TopicInfo{Kind: TopicUnknown}
}
