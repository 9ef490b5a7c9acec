package scheduling

import (
	"testing"
	"time"
)

func TestNormalizeTiming_DefaultDuration(t *testing.T) {
	timing, err := normalizeTiming("2025-11-11T14:00:00Z", "", 0)
	if err != nil {
		t.Fatalf("normalizeTiming failed: %v", err)
	}
	wantEnd := time.Date(2025, 11, 11, 14, 30, 0, 0, time.UTC)
	if !timing.End.Equal(wantEnd) {
		t.Fatalf("expected end %s, got %s", wantEnd, timing.End)
	}
	if timing.DurationMinutes != 30 {
		t.Fatalf("expected duration 30, got %d", timing.DurationMinutes)
	}
}

func TestNormalizeTiming_DurationOnly(t *testing.T) {
	timing, err := normalizeTiming("2025-11-11T14:00:00Z", "", 45)
	if err != nil {
		t.Fatalf("normalizeTiming failed: %v", err)
	}
	wantEnd := time.Date(2025, 11, 11, 14, 45, 0, 0, time.UTC)
	if !timing.End.Equal(wantEnd) {
		t.Fatalf("expected end %s, got %s", wantEnd, timing.End)
	}
	if timing.DurationMinutes != 45 {
		t.Fatalf("expected duration 45, got %d", timing.DurationMinutes)
	}
}

func TestNormalizeTiming_EndOnly_DerivesDuration(t *testing.T) {
	timing, err := normalizeTiming("2025-11-11T14:00:00Z", "2025-11-11T14:50:30Z", 0)
	if err != nil {
		t.Fatalf("normalizeTiming failed: %v", err)
	}
	// 50m30s rounds to 51 whole minutes.
	if timing.DurationMinutes != 51 {
		t.Fatalf("expected duration 51, got %d", timing.DurationMinutes)
	}
	if !timing.End.Equal(time.Date(2025, 11, 11, 14, 50, 30, 0, time.UTC)) {
		t.Fatalf("end should stay as supplied, got %s", timing.End)
	}
}

func TestNormalizeTiming_SubMinuteFloorsToOne(t *testing.T) {
	timing, err := normalizeTiming("2025-11-11T14:00:00Z", "2025-11-11T14:00:10Z", 0)
	if err != nil {
		t.Fatalf("normalizeTiming failed: %v", err)
	}
	if timing.DurationMinutes != 1 {
		t.Fatalf("expected minimum duration 1, got %d", timing.DurationMinutes)
	}
}

func TestNormalizeTiming_EndWinsOverDuration(t *testing.T) {
	// Duration disagrees with end; end defines the interval, duration is
	// kept verbatim as a display value.
	timing, err := normalizeTiming("2025-11-11T14:00:00Z", "2025-11-11T15:00:00Z", 15)
	if err != nil {
		t.Fatalf("normalizeTiming failed: %v", err)
	}
	if !timing.End.Equal(time.Date(2025, 11, 11, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("end must not be recomputed from duration, got %s", timing.End)
	}
	if timing.DurationMinutes != 15 {
		t.Fatalf("supplied duration should be kept, got %d", timing.DurationMinutes)
	}
}

func TestNormalizeTiming_NormalizesToUTC(t *testing.T) {
	timing, err := normalizeTiming("2025-11-11T16:00:00+02:00", "", 30)
	if err != nil {
		t.Fatalf("normalizeTiming failed: %v", err)
	}
	if !timing.Start.Equal(time.Date(2025, 11, 11, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 14:00 UTC, got %s", timing.Start)
	}
	if timing.Start.Location() != time.UTC {
		t.Fatalf("start should be in UTC, got %s", timing.Start.Location())
	}
}

func TestNormalizeTiming_Errors(t *testing.T) {
	cases := []struct {
		name     string
		start    string
		end      string
		duration int
	}{
		{"missing start", "", "", 0},
		{"garbage start", "tomorrow at 2", "", 0},
		{"garbage end", "2025-11-11T14:00:00Z", "half past three", 0},
		{"end before start", "2025-11-11T14:00:00Z", "2025-11-11T13:00:00Z", 0},
		{"end equals start", "2025-11-11T14:00:00Z", "2025-11-11T14:00:00Z", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := normalizeTiming(tc.start, tc.end, tc.duration)
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %T: %v", err, err)
			}
		})
	}
}
