package lorawan

import (
	"fmt"
)

// DataRate describes the LoRa modulation parameters of a packet.
type DataRate struct {
	SpreadingFactor int
	Bandwidth       int // Hz
}

// String renders the Semtech packet-forwarder form, e.g. "SF7BW125".
// Empty when either parameter is unknown.
func (d DataRate) String() string {
	if d.SpreadingFactor == 0 || d.Bandwidth == 0 {
		return ""
	}
	return fmt.Sprintf("SF%dBW%d", d.SpreadingFactor, d.Bandwidth/1000)
}

// ParseDataRate parses the "SF{sf}BW{bw_khz}" form used by Semtech packet
// forwarders and ChirpStack JSON payloads.
func ParseDataRate(s string) (DataRate, error) {
	var sf, bwKHz int
	if _, err := fmt.Sscanf(s, "SF%dBW%d", &sf, &bwKHz); err != nil {
		return DataRate{}, fmt.Errorf("parse data rate %q: %w", s, err)
	}
	return DataRate{SpreadingFactor: sf, Bandwidth: bwKHz * 1000}, nil
}
