package pool

import (
	"errors"
	"time"
)

// Modified Julian Date handling. The engineering database keys every
// telemetry row with an MJD value alongside a wall-clock timestamp, and
// the two must convert consistently: day 40587 is 1970-01-01 UTC.

const (
	// UnixEpochMJD is the Modified Julian Date of the Unix epoch.
	UnixEpochMJD = 40587

	nanosPerDay = 86400 * 1e9
)

// ErrInvalidTimestamp is returned when a timestamp cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp format")

// MJDToTime converts a Modified Julian Date to a UTC time.Time.
func MJDToTime(mjd float64) time.Time {
	ns := int64((mjd - UnixEpochMJD) * nanosPerDay)
	return time.Unix(0, ns).UTC()
}

// TimeToMJD converts a time.Time to a Modified Julian Date.
func TimeToMJD(t time.Time) float64 {
	return float64(t.UnixNano())/nanosPerDay + UnixEpochMJD
}

// MJDToUnixNano converts a Modified Julian Date to Unix nanoseconds.
func MJDToUnixNano(mjd float64) int64 {
	return int64((mjd - UnixEpochMJD) * nanosPerDay)
}

// ParseTimestamp parses an engineering-database timestamp from a byte
// slice into Unix nanoseconds. The database emits timestamps in the form
// "2022-07-12 14:30:15.123" with an optional 'T' separator, optional
// fractional seconds, and an optional trailing 'Z'. The parser is
// byte-level and allocation-free because it sits on the CSV decode hot
// path.
func ParseTimestamp(b []byte) (int64, error) {
	b = TrimSpaces(b)
	if len(b) < 19 {
		return 0, ErrInvalidTimestamp
	}

	// Date part: yyyy-mm-dd
	year, ok := parseInt4(b[0:4])
	if !ok || b[4] != '-' {
		return 0, ErrInvalidTimestamp
	}
	month, ok := parseInt2(b[5:7])
	if !ok || b[7] != '-' || month < 1 || month > 12 {
		return 0, ErrInvalidTimestamp
	}
	day, ok := parseInt2(b[8:10])
	if !ok || day < 1 || day > 31 {
		return 0, ErrInvalidTimestamp
	}

	// Separator: 'T' or space.
	if b[10] != 'T' && b[10] != ' ' {
		return 0, ErrInvalidTimestamp
	}

	// Time part: hh:mm:ss
	hour, ok := parseInt2(b[11:13])
	if !ok || b[13] != ':' || hour > 23 {
		return 0, ErrInvalidTimestamp
	}
	minute, ok := parseInt2(b[14:16])
	if !ok || b[16] != ':' || minute > 59 {
		return 0, ErrInvalidTimestamp
	}
	second, ok := parseInt2(b[17:19])
	if !ok || second > 60 {
		return 0, ErrInvalidTimestamp
	}

	// Optional fractional seconds and trailing Z.
	var nsec int
	rest := b[19:]
	if len(rest) > 0 && rest[0] == '.' {
		frac, n, ok := parseFraction(rest[1:])
		if !ok {
			return 0, ErrInvalidTimestamp
		}
		nsec = frac
		rest = rest[1+n:]
	}
	if len(rest) > 0 {
		if len(rest) != 1 || rest[0] != 'Z' {
			return 0, ErrInvalidTimestamp
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, nsec, time.UTC)
	return t.UnixNano(), nil
}

// ParseMJD parses a Modified Julian Date value from a byte slice.
// The fast path handles the plain decimal form the database emits;
// anything else falls back to strconv.
func ParseMJD(b []byte) (float64, error) {
	b = TrimSpaces(b)
	if len(b) == 0 {
		return 0, ErrInvalidTimestamp
	}

	var intPart int64
	i := 0
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			break
		}
		intPart = intPart*10 + int64(c-'0')
		if intPart > 1<<52 {
			// Out of the fast path's safe integer range.
			return ParseFloat64(b)
		}
	}
	if i == 0 {
		return ParseFloat64(b)
	}
	if i == len(b) {
		return float64(intPart), nil
	}
	if b[i] != '.' {
		return ParseFloat64(b)
	}

	var fracPart int64
	var fracDigits int
	for i++; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return ParseFloat64(b)
		}
		if fracDigits < 15 {
			fracPart = fracPart*10 + int64(c-'0')
			fracDigits++
		}
	}

	result := float64(intPart)
	if fracDigits > 0 {
		result += float64(fracPart) / pow10(fracDigits)
	}
	return result, nil
}

func pow10(n int) float64 {
	p := 1.0
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

// parseInt4 parses exactly 4 ASCII digits.
func parseInt4(b []byte) (int, bool) {
	if len(b) != 4 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// parseInt2 parses exactly 2 ASCII digits.
func parseInt2(b []byte) (int, bool) {
	if len(b) != 2 {
		return 0, false
	}
	if b[0] < '0' || b[0] > '9' || b[1] < '0' || b[1] > '9' {
		return 0, false
	}
	return int(b[0]-'0')*10 + int(b[1]-'0'), true
}

// parseFraction parses up to 9 fractional-second digits and returns
// the value in nanoseconds together with the number of bytes consumed.
func parseFraction(b []byte) (int, int, bool) {
	n := 0
	i := 0
	for ; i < len(b) && i < 9; i++ {
		c := b[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	if i == 0 {
		return 0, 0, false
	}
	// Scale to nanoseconds.
	for j := i; j < 9; j++ {
		n *= 10
	}
	// Swallow extra precision beyond nanoseconds.
	consumed := i
	for ; consumed < len(b); consumed++ {
		c := b[consumed]
		if c < '0' || c > '9' {
			break
		}
	}
	return n, consumed, true
}
