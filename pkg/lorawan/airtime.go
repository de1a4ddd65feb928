package lorawan

import (
	"math"
)

// Defaults for LoRa uplinks as transmitted by standard gateways.
const (
	DefaultPreambleLength = 8
)

// Airtime returns the time-on-air in microseconds of a LoRa transmission,
// using the Semtech symbol-time formula (AN1200.13). Assumes an explicit
// header, CRC on, an 8-symbol preamble, and low-data-rate optimization for
// SF11/SF12 at 125 kHz and SF12 at 250 kHz, which is how every common
// packet forwarder transmits uplinks.
//
// Returns 0 when sf or bandwidth is unknown.
func Airtime(payloadLen, sf, bandwidth int, codingRate string) int64 {
	lowDROpt := (sf >= 11 && bandwidth == 125000) || (sf == 12 && bandwidth == 250000)
	us := AirtimeExplicit(payloadLen, sf, bandwidth, DefaultPreambleLength, codingRate, true, true, lowDROpt)
	return int64(math.Round(us))
}

// AirtimeExplicit computes time-on-air in microseconds with every parameter
// exposed. explicitHeader=false means the implicit (headerless) PHY mode,
// crc the 16-bit payload CRC, lowDROpt the low-data-rate optimization bit.
func AirtimeExplicit(payloadLen, sf, bandwidth, preambleLen int, codingRate string, explicitHeader, crc, lowDROpt bool) float64 {
	if sf < 5 || sf > 12 || bandwidth <= 0 || payloadLen < 0 {
		return 0
	}

	cr := codingRateValue(codingRate)
	if cr == 0 {
		cr = 1 // 4/5, the LoRaWAN default
	}

	// Symbol duration in µs.
	tSym := math.Exp2(float64(sf)) / float64(bandwidth) * 1e6

	h := 1.0 // implicit header
	if explicitHeader {
		h = 0
	}
	crcVal := 0.0
	if crc {
		crcVal = 1
	}
	de := 0.0
	if lowDROpt {
		de = 1
	}

	num := 8*float64(payloadLen) - 4*float64(sf) + 28 + 16*crcVal - 20*h
	den := 4 * (float64(sf) - 2*de)
	payloadSymbNb := 8 + math.Max(math.Ceil(num/den)*(float64(cr)+4), 0)

	return tSym * (float64(preambleLen) + 4.25 + payloadSymbNb)
}

// codingRateValue maps "4/5".."4/8" to CR 1..4; 0 when unrecognized.
func codingRateValue(codingRate string) int {
	switch codingRate {
	case "4/5":
		return 1
	case "4/6", "2/3":
		return 2
	case "4/7":
		return 3
	case "4/8", "2/4", "1/2":
		return 4
	}
	return 0
}
