package timeutil

import (
	"testing"
	"time"
)

func TestSystemClock_UTC(t *testing.T) {
	var c Clock = SystemClock{}
	if c.Now().Location() != time.UTC {
		t.Errorf("SystemClock.Now() returned non-UTC timezone: %v", c.Now().Location())
	}
}

func TestCeilDays(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		to   time.Time
		want int
	}{
		{"same instant", base, 0},
		{"in the past", base.Add(-time.Hour), 0},
		{"exact days", base.Add(20 * Day), 20},
		{"partial day rounds up", base.Add(20*Day + time.Minute), 21},
		{"one nanosecond", base.Add(time.Nanosecond), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CeilDays(base, tt.to); got != tt.want {
				t.Errorf("CeilDays() = %d, want %d", got, tt.want)
			}
		})
	}
}
