package builders

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DueNow is what FormatRemaining returns once a timer has run out.
const DueNow = "¡AHORA MISMO!"

const day = 24 * time.Hour

var durationUnits = [...]struct {
	suffix byte
	size   time.Duration
}{
	{'d', day},
	{'h', time.Hour},
	{'m', time.Minute},
}

// ParseDuration parses "[Nd][Nh][Nm]" (e.g. "2d5h", "45m", "1d2h30m").
// Units are optional but must appear at most once and in that order.
// A zero total is valid here; callers decide whether to accept it.
func ParseDuration(text string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrInvalidFormat)
	}

	var total time.Duration
	next := 0
	for s != "" {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("%w: expected a number at %q", ErrInvalidFormat, s)
		}
		if i == len(s) {
			return 0, fmt.Errorf("%w: number %q has no unit", ErrInvalidFormat, s)
		}
		unit := -1
		for u := next; u < len(durationUnits); u++ {
			if durationUnits[u].suffix == s[i] {
				unit = u
				break
			}
		}
		if unit < 0 {
			return 0, fmt.Errorf("%w: unexpected unit %q in %q", ErrInvalidFormat, s[i], text)
		}
		n, err := strconv.ParseInt(s[:i], 10, 64)
		size := durationUnits[unit].size
		if err != nil || n > (math.MaxInt64-int64(total))/int64(size) {
			return 0, fmt.Errorf("%w: %q is too large", ErrInvalidFormat, text)
		}
		total += time.Duration(n) * size
		next = unit + 1
		s = s[i+1:]
	}
	return total, nil
}

// FormatRemaining renders the time left until end as "{h}h {m}m" or "{m}m",
// truncating seconds. Hours are not folded into days.
func FormatRemaining(end, now time.Time) string {
	left := end.Sub(now)
	if left <= 0 {
		return DueNow
	}
	secs := int64(left / time.Second)
	hours, minutes := secs/3600, (secs%3600)/60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
