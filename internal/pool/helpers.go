package pool

import (
	"strconv"
	"unsafe"
)

// Zero-allocation helper functions for common operations.

// BytesToString converts a byte slice to a string without allocation.
// WARNING: The returned string shares memory with the byte slice.
// Do not modify the byte slice after calling this function if you
// need the string to remain valid.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes converts a string to a byte slice without allocation.
// WARNING: The returned byte slice shares memory with the string.
// Never modify the returned byte slice.
func StringToBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// ParseInt64 parses an int64 from a byte slice without allocation.
func ParseInt64(b []byte) (int64, error) {
	return strconv.ParseInt(BytesToString(b), 10, 64)
}

// ParseFloat64 parses a float64 from a byte slice without allocation.
func ParseFloat64(b []byte) (float64, error) {
	return strconv.ParseFloat(BytesToString(b), 64)
}

// AppendInt64 appends an int64 to a byte slice.
func AppendInt64(dst []byte, v int64) []byte {
	return strconv.AppendInt(dst, v, 10)
}

// AppendFloat64 appends a float64 to a byte slice.
func AppendFloat64(dst []byte, v float64) []byte {
	return strconv.AppendFloat(dst, v, 'g', -1, 64)
}

// EqualBytes compares two byte slices for equality without allocation.
func EqualBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TrimSpaces trims leading and trailing whitespace in-place.
// Returns a slice of the same underlying array.
func TrimSpaces(b []byte) []byte {
	start := 0
	end := len(b)

	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}

	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// IndexByte returns the index of the first occurrence of c in b,
// or -1 if c is not present.
func IndexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// SplitFirst splits b at the first occurrence of sep,
// returning the part before and the part after sep.
// If sep is not found, returns b, nil.
func SplitFirst(b []byte, sep byte) ([]byte, []byte) {
	idx := IndexByte(b, sep)
	if idx < 0 {
		return b, nil
	}
	return b[:idx], b[idx+1:]
}
