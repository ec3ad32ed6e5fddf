package main

import (
	"strings"
	"testing"
)

func resetGlobalFlags() {
	jsonOut = false
	quiet = false
}

func TestRunStatsTextOutput(t *testing.T) {
	resetGlobalFlags()
	statsSizes = "64,128,257,4096"
	statsChunkSize = 128
	statsMaxSubPage = 4096
	statsPreReserved = false
	statsSpinCount = 0

	out, err := captureOutput(t, runStats)
	if err != nil {
		t.Fatalf("runStats: %v", err)
	}
	if !strings.Contains(out, "Requested 4 allocations, 0 failed") {
		t.Fatalf("expected a summary line, got:\n%s", out)
	}
	if !strings.Contains(out, "Bucket occupancy") {
		t.Fatalf("expected bucket occupancy section, got:\n%s", out)
	}
}

func TestRunStatsJSONOutput(t *testing.T) {
	resetGlobalFlags()
	jsonOut = true
	statsSizes = "64,128"
	statsChunkSize = 128
	statsMaxSubPage = 4096
	statsPreReserved = false
	statsSpinCount = 0

	out, err := captureOutput(t, runStats)
	if err != nil {
		t.Fatalf("runStats: %v", err)
	}
	assertJSON(t, out)
}

func TestRunStatsRejectsBadSizes(t *testing.T) {
	resetGlobalFlags()
	statsSizes = "not-a-number"

	if _, err := captureOutput(t, runStats); err == nil {
		t.Fatalf("expected an error for an unparseable size list")
	}
}

func TestParseSizes(t *testing.T) {
	got, err := parseSizes("128, 256,512")
	if err != nil {
		t.Fatalf("parseSizes: %v", err)
	}
	want := []int{128, 256, 512}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestParseSizesRejectsEmpty(t *testing.T) {
	if _, err := parseSizes(""); err == nil {
		t.Fatalf("expected an error for an empty size list")
	}
}
