package timer

import (
	"fmt"
	"math"
	"strings"
)

// Display layouts understood by Format.
const (
	LayoutMillis  = "hh:mm:ss.mmm"
	LayoutClock   = "hh:mm:ss"
	LayoutShort   = "mm:ss"
	LayoutSeconds = "seconds"
)

var layouts = []string{LayoutMillis, LayoutClock, LayoutShort, LayoutSeconds}

// Layouts returns the supported display layouts, default first.
func Layouts() []string { return append([]string(nil), layouts...) }

// NormalizeLayout returns the canonical layout for s, or "" if unsupported.
// "hh:mm:ss.ms" is accepted as an alias of LayoutMillis.
func NormalizeLayout(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "hh:mm:ss.ms":
		return LayoutMillis
	case "s", "sec":
		return LayoutSeconds
	}
	for _, l := range layouts {
		if s == l {
			return l
		}
	}
	return ""
}

// Format renders ms in layout. Unknown layouts use LayoutMillis. Hours are not
// wrapped at 24.
func Format(ms float64, layout string) string {
	if math.IsNaN(ms) || ms < 0 {
		ms = 0
	}
	total := int64(math.Floor(ms))
	h := total / 3_600_000
	m := (total % 3_600_000) / 60_000
	sec := (total % 60_000) / 1000
	rem := total % 1000

	switch NormalizeLayout(layout) {
	case LayoutSeconds:
		return fmt.Sprintf("%.3fs", float64(total)/1000)
	case LayoutShort:
		return fmt.Sprintf("%02d:%02d", h*60+m, sec)
	case LayoutClock:
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	default:
		return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, rem)
	}
}
