package internaldefs

import (
	"strings"
	"testing"

	goAccess "github.com/MrEthical07/goAccess"
)

func TestCounterDefsAreUnique(t *testing.T) {
	ids := map[goAccess.MetricID]bool{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		if ids[def.ID] || names[def.Name] {
			t.Fatalf("duplicate counter definition %+v", def)
		}
		if !strings.HasPrefix(def.Name, "goaccess_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %q", def.Name)
		}
		ids[def.ID] = true
		names[def.Name] = true
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("CumulativeBuckets = %v, want %v", got, want)
	}
	if len(UpperBounds)+1 != len(got) {
		t.Fatalf("%d bounds for %d buckets", len(UpperBounds), len(got))
	}
}
