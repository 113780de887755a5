package pool

import (
	"bytes"
	"testing"
)

func TestByteBufferWrite(t *testing.T) {
	buf := &ByteBuffer{}
	buf.Write([]byte("hello "))
	buf.Write([]byte("world"))

	if got := string(buf.Bytes()); got != "hello world" {
		t.Errorf("Expected %q, got %q", "hello world", got)
	}
	if buf.Len() != 11 {
		t.Errorf("Expected length 11, got %d", buf.Len())
	}
}

func TestByteBufferReset(t *testing.T) {
	buf := &ByteBuffer{}
	buf.Write([]byte("data"))
	buf.Reset()

	if buf.Len() != 0 {
		t.Errorf("Expected length 0 after reset, got %d", buf.Len())
	}
}

func TestByteBufferGrow(t *testing.T) {
	buf := &ByteBuffer{}
	buf.Grow(1024)
	if cap(buf.Data) < 1024 {
		t.Errorf("Expected capacity >= 1024, got %d", cap(buf.Data))
	}

	// Growing within existing capacity is a no-op.
	before := cap(buf.Data)
	buf.Grow(512)
	if cap(buf.Data) != before {
		t.Errorf("Expected capacity unchanged at %d, got %d", before, cap(buf.Data))
	}
}

func TestBufferPoolReuse(t *testing.T) {
	p := NewBufferPool()
	buf := p.Get()
	buf.Write([]byte("leftover"))
	p.Put(buf)

	got := p.Get()
	if got.Len() != 0 {
		t.Errorf("Expected empty buffer from pool, got length %d", got.Len())
	}
}

func TestLineBufferNextLine(t *testing.T) {
	lb := NewLineBuffer([]byte("one\ntwo\r\nthree"))

	var lines []string
	for {
		line, ok := lb.NextLine()
		if !ok {
			break
		}
		lines = append(lines, string(line))
	}

	want := []string{"one", "two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("Expected %d lines, got %d: %v", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestLineBufferEmpty(t *testing.T) {
	lb := NewLineBuffer(nil)
	if _, ok := lb.NextLine(); ok {
		t.Error("Expected no lines from empty buffer")
	}
}

func TestLineBufferTrailingNewline(t *testing.T) {
	lb := NewLineBuffer([]byte("only\n"))

	line, ok := lb.NextLine()
	if !ok || string(line) != "only" {
		t.Fatalf("Expected %q, got %q (ok=%v)", "only", line, ok)
	}
	if _, ok := lb.NextLine(); ok {
		t.Error("Expected no more lines after trailing newline")
	}
}

func TestBytesToString(t *testing.T) {
	if got := BytesToString([]byte("abc")); got != "abc" {
		t.Errorf("Expected %q, got %q", "abc", got)
	}
	if got := BytesToString(nil); got != "" {
		t.Errorf("Expected empty string, got %q", got)
	}
}

func TestStringToBytes(t *testing.T) {
	if got := StringToBytes("abc"); !bytes.Equal(got, []byte("abc")) {
		t.Errorf("Expected %q, got %q", "abc", got)
	}
	if got := StringToBytes(""); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
}

func TestTrimSpaces(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  abc  ", "abc"},
		{"\tabc\r\n", "abc"},
		{"abc", "abc"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := string(TrimSpaces([]byte(tt.input))); got != tt.want {
			t.Errorf("TrimSpaces(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}
}

func TestSplitFirst(t *testing.T) {
	before, after := SplitFirst([]byte("key=value=more"), '=')
	if string(before) != "key" || string(after) != "value=more" {
		t.Errorf("Expected key/value=more, got %q/%q", before, after)
	}

	before, after = SplitFirst([]byte("nokey"), '=')
	if string(before) != "nokey" || after != nil {
		t.Errorf("Expected nokey/nil, got %q/%q", before, after)
	}
}

func TestParseFloat64(t *testing.T) {
	got, err := ParseFloat64([]byte("3.14"))
	if err != nil {
		t.Fatalf("ParseFloat64 error: %v", err)
	}
	if got != 3.14 {
		t.Errorf("Expected 3.14, got %f", got)
	}
}
