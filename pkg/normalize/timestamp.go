package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Zone-less layouts are read as UTC. Fractional seconds are accepted after
// the seconds field by time.Parse even when the layout omits them.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
	time.RubyDate, // Mon Jan 02 15:04:05 -0700 2006, the classic API format
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	"2006-01-02",
}

const (
	// epochMillisThreshold separates epoch seconds from epoch milliseconds
	epochMillisThreshold = 1e11
	// maxEpochMillis is 10000-01-01T00:00:00Z; larger values are not dates
	maxEpochMillis = 253402300800000
)

// ParseTimestamp accepts ISO-8601 strings, RFC-2822 style dates and epoch
// seconds or milliseconds as numbers or digit strings. The result is UTC.
func ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(x)
	case int:
		return fromEpoch(float64(x))
	case int64:
		return fromEpoch(float64(x))
	case string:
		return parseString(x)
	default:
		return time.Time{}, false
	}
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f >= maxEpochMillis {
		return time.Time{}, false
	}
	if f >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
