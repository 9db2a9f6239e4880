package marketdata

import "testing"

func TestToLevels_ParsesAndSkipsMalformed(t *testing.T) {
	raw := [][2]string{{"100.5", "1.2"}, {"bad", "1"}, {"101", "0.5"}}
	levels := toLevels(raw)
	if len(levels) != 2 {
		t.Fatalf("expected 2 valid levels, got %d", len(levels))
	}
	if levels[0].Price != 100.5 || levels[0].Size != 1.2 {
		t.Errorf("unexpected first level: %+v", levels[0])
	}
	if levels[1].Price != 101 || levels[1].Size != 0.5 {
		t.Errorf("unexpected second level: %+v", levels[1])
	}
}
