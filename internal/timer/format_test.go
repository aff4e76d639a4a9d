package timer

import "testing"

func TestFormat(t *testing.T) {
	t.Parallel()
	const ms = 3_723_456.9 // 1h 2m 3.456s
	tests := []struct {
		layout string
		ms     float64
		want   string
	}{
		{LayoutMillis, ms, "01:02:03.456"},
		{"", ms, "01:02:03.456"},
		{"hh:mm:ss.ms", ms, "01:02:03.456"},
		{LayoutClock, ms, "01:02:03"},
		{LayoutShort, ms, "62:03"},
		{LayoutShort, 3_600_000, "60:00"},
		{LayoutSeconds, ms, "3723.456s"},
		{LayoutMillis, 0, "00:00:00.000"},
		{LayoutMillis, -20, "00:00:00.000"},
		{LayoutClock, 100 * 3_600_000, "100:00:00"},
	}
	for _, tt := range tests {
		if got := Format(tt.ms, tt.layout); got != tt.want {
			t.Fatalf("Format(%v, %q) = %q, want %q", tt.ms, tt.layout, got, tt.want)
		}
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"90", 90, false},
		{"1.5", 1.5, false},
		{"1m30s", 90, false},
		{"2h", 7200, false},
		{"01:30", 90, false},
		{"1:02:03", 3723, false},
		{"00:10.5", 10.5, false},
		{"-3", 0, true},
		{"NaN", 0, true},
		{"1:75", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseTarget(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTarget(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseTarget(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Mode{
		"countdown": Countdown,
		"Timer":     Countdown,
		"stopwatch": Stopwatch,
		"":          Stopwatch,
		"bogus":     Stopwatch,
	} {
		if got := ParseMode(in); got != want {
			t.Fatalf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}
