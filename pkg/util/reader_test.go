package util

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenFilePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv")
	if err := os.WriteFile(path, []byte("theTime,MJD,euvalue\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, cleanup, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}
	defer cleanup()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "theTime,MJD,euvalue\n" {
		t.Errorf("Unexpected content: %q", data)
	}
}

func TestOpenFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.csv.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write([]byte("59000.5,1.25\n")); err != nil {
		t.Fatal(err)
	}
	gw.Close()
	f.Close()

	r, cleanup, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}
	defer cleanup()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "59000.5,1.25\n" {
		t.Errorf("Unexpected content: %q", data)
	}
}

func TestOpenFileMissing(t *testing.T) {
	if _, _, err := OpenFile("/does/not/exist.csv"); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestBaseFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"telemetry.csv", ".csv"},
		{"telemetry.csv.gz", ".csv"},
		{"SEGMENTS.PARQUET", ".parquet"},
		{"out.json.GZ", ".json"},
		{"noext", ""},
	}

	for _, tt := range tests {
		if got := BaseFormat(tt.path); got != tt.want {
			t.Errorf("BaseFormat(%q): expected %q, got %q", tt.path, tt.want, got)
		}
	}
}

func TestStripCompression(t *testing.T) {
	if got := StripCompression("a.csv.gz"); got != "a.csv" {
		t.Errorf("Expected a.csv, got %q", got)
	}
	if got := StripCompression("a.csv"); got != "a.csv" {
		t.Errorf("Expected a.csv, got %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "nested", "deeper", "out.csv")

	if err := EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir error: %v", err)
	}
	info, err := os.Stat(filepath.Dir(target))
	if err != nil || !info.IsDir() {
		t.Fatalf("Expected directory to exist, got err=%v", err)
	}

	// Bare filename needs no directory.
	if err := EnsureDir("out.csv"); err != nil {
		t.Errorf("EnsureDir for bare name: %v", err)
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}

	for _, tt := range tests {
		if got := HumanBytes(tt.n); got != tt.want {
			t.Errorf("HumanBytes(%d): expected %q, got %q", tt.n, tt.want, got)
		}
	}
}
