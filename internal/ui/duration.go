package ui

import (
	"math"
	"strconv"
	"time"
)

var durationUnits = []struct {
	size time.Duration
	name string
}{
	{time.Hour, "h"},
	{time.Minute, "min"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "μs"},
}

// PrettyDuration formats d in its largest whole unit with three
// significant digits, e.g. "850 μs", "12.3 ms", "1.5 s".
func PrettyDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	for _, u := range durationUnits {
		if d >= u.size {
			v := float64(d) / float64(u.size)
			return formatSignificant(v) + " " + u.name
		}
	}
	return strconv.FormatInt(int64(d), 10) + " ns"
}

func formatSignificant(v float64) string {
	digits := 3 - int(math.Floor(math.Log10(v))) - 1
	if digits < 0 {
		digits = 0
	}
	pow := math.Pow(10, float64(digits))
	v = math.Round(v*pow) / pow
	return strconv.FormatFloat(v, 'f', -1, 64)
}
