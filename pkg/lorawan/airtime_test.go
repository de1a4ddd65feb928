package lorawan

import (
	"math"
	"testing"
)

func TestAirtimeKnownValues(t *testing.T) {
	tests := []struct {
		name       string
		payloadLen int
		sf         int
		bandwidth  int
		codingRate string
		wantUS     int64
	}{
		{"SF7 BW125 16B 4/5", 16, 7, 125000, "4/5", 51456},
		{"SF7 BW250 16B 4/5", 16, 7, 250000, "4/5", 25728},
		{"SF7 BW125 16B 4/8", 16, 7, 125000, "4/8", 69888},
		{"SF9 BW125 12B 4/5", 12, 9, 125000, "4/5", 144384},
		{"SF11 BW125 23B 4/5 (DE on)", 23, 11, 125000, "4/5", 823296},
		{"SF12 BW125 51B 4/5 (DE on)", 51, 12, 125000, "4/5", 2465792},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Airtime(tt.payloadLen, tt.sf, tt.bandwidth, tt.codingRate)
			if diff := got - tt.wantUS; diff > 1 || diff < -1 {
				t.Errorf("Airtime() = %d µs, want %d µs", got, tt.wantUS)
			}
		})
	}
}

func TestAirtimeUnknownParams(t *testing.T) {
	if got := Airtime(16, 0, 125000, "4/5"); got != 0 {
		t.Errorf("Airtime() with SF 0 = %d, want 0", got)
	}
	if got := Airtime(16, 7, 0, "4/5"); got != 0 {
		t.Errorf("Airtime() with BW 0 = %d, want 0", got)
	}
	if got := Airtime(16, 13, 125000, "4/5"); got != 0 {
		t.Errorf("Airtime() with SF 13 = %d, want 0", got)
	}
}

func TestAirtimeUnknownCodingRateDefaultsTo45(t *testing.T) {
	want := Airtime(16, 7, 125000, "4/5")
	got := Airtime(16, 7, 125000, "")
	if got != want {
		t.Errorf("Airtime() with empty coding rate = %d, want %d", got, want)
	}
}

// Spot-check the full formula against an independent evaluation across the
// whole LoRaWAN parameter space.
func TestAirtimeFormula(t *testing.T) {
	crs := map[string]int{"4/5": 1, "4/6": 2, "4/7": 3, "4/8": 4}

	for sf := 7; sf <= 12; sf++ {
		for _, bw := range []int{125000, 250000, 500000} {
			for crStr, cr := range crs {
				for _, pl := range []int{1, 13, 51, 128, 255} {
					de := 0.0
					if (sf >= 11 && bw == 125000) || (sf == 12 && bw == 250000) {
						de = 1
					}
					tSym := math.Exp2(float64(sf)) / float64(bw) * 1e6
					num := 8*float64(pl) - 4*float64(sf) + 28 + 16
					den := 4 * (float64(sf) - 2*de)
					symbols := 8 + math.Max(math.Ceil(num/den)*float64(cr+4), 0)
					want := int64(math.Round(tSym * (8 + 4.25 + symbols)))

					got := Airtime(pl, sf, bw, crStr)
					if diff := got - want; diff > 1 || diff < -1 {
						t.Fatalf("Airtime(%d, %d, %d, %s) = %d µs, want %d µs", pl, sf, bw, crStr, got, want)
					}
				}
			}
		}
	}
}

func TestAirtimeExplicitImplicitHeader(t *testing.T) {
	explicit := AirtimeExplicit(16, 7, 125000, 8, "4/5", true, true, false)
	implicit := AirtimeExplicit(16, 7, 125000, 8, "4/5", false, true, false)
	if implicit >= explicit {
		t.Errorf("implicit header airtime %.0f should be below explicit %.0f", implicit, explicit)
	}
}
