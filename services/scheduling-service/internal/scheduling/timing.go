package scheduling

import (
	"math"
	"time"
)

const defaultDurationMinutes = 30

// Timing is a normalized booking interval. Start and End are UTC;
// DurationMinutes is the display value stored alongside them.
type Timing struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
}

// normalizeTiming turns the caller's fuzzy start/end/duration combination
// into a canonical interval. durationMinutes <= 0 means "not supplied".
//
//   - start is required and must parse as RFC 3339.
//   - No end: end = start + duration, defaulting to 30 minutes.
//   - End without duration: duration = (end-start) rounded to whole
//     minutes, minimum 1.
//   - Both supplied: end wins for the booked interval. A duration that
//     disagrees with end is kept verbatim as a display value and does not
//     recompute end. Intentional asymmetry, not a bug: callers supplying
//     both have committed to a concrete end instant.
func normalizeTiming(startISO, endISO string, durationMinutes int) (Timing, error) {
	if startISO == "" {
		return Timing{}, validationf("startIso is required")
	}
	start, err := time.Parse(time.RFC3339, startISO)
	if err != nil {
		return Timing{}, validationf("invalid startIso %q: must be RFC 3339", startISO)
	}
	start = start.UTC()

	if endISO == "" {
		d := durationMinutes
		if d <= 0 {
			d = defaultDurationMinutes
		}
		return Timing{
			Start:           start,
			End:             start.Add(time.Duration(d) * time.Minute),
			DurationMinutes: d,
		}, nil
	}

	end, err := time.Parse(time.RFC3339, endISO)
	if err != nil {
		return Timing{}, validationf("invalid endIso %q: must be RFC 3339", endISO)
	}
	end = end.UTC()
	if !end.After(start) {
		return Timing{}, validationf("endIso must be after startIso")
	}

	d := durationMinutes
	if d <= 0 {
		d = int(math.Round(end.Sub(start).Minutes()))
		if d < 1 {
			d = 1
		}
	}
	return Timing{Start: start, End: end, DurationMinutes: d}, nil
}
