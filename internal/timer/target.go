package timer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reClock = regexp.MustCompile(`^(?:(\d{1,3}):)?(\d{1,2}):(\d{2})(?:\.(\d{1,3}))?$`)

// ParseTarget parses a countdown target into seconds.
//
// Accepted forms:
//   - plain seconds: "90", "1.5"
//   - Go duration: "1m30s", "2h"
//   - clock strings: "01:30" (mm:ss), "1:02:03" (hh:mm:ss), optional ".mmm"
//
// Empty input yields 0 (no target).
func ParseTarget(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0, fmt.Errorf("invalid target %q: must be a finite, non-negative number", raw)
		}
		return v, nil
	}
	if m := reClock.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(orZero(m[1]))
		mm, _ := strconv.Atoi(m[2])
		ss, _ := strconv.Atoi(m[3])
		if ss > 59 || (m[1] != "" && mm > 59) {
			return 0, fmt.Errorf("invalid target %q: field out of range", raw)
		}
		frac := 0.0
		if m[4] != "" {
			f, _ := strconv.ParseFloat("0."+m[4], 64)
			frac = f
		}
		return float64(h*3600+mm*60+ss) + frac, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid target %q (use seconds like '90', a duration like '1m30s', or mm:ss)", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid target %q: must be >= 0", raw)
	}
	return d.Seconds(), nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// sanitizeTarget coerces invalid numeric input to 0.
func sanitizeTarget(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
