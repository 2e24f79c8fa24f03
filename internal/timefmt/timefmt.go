// Package timefmt renders playback and recording times for display.
package timefmt

import (
	"fmt"
	"math"
)

// Format renders seconds as zero-padded "mm:ss". Fractional seconds are
// truncated and negative values render as "00:00". Minutes are not wrapped
// into hours, so 3661 renders as "61:01".
func Format(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FormatInt is Format for whole seconds.
func FormatInt(seconds int) string {
	return Format(float64(seconds))
}
