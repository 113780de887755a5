package pipe

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mastflow/mastflow/pkg/checkpoint"
	"github.com/mastflow/mastflow/pkg/errors"
	"github.com/mastflow/mastflow/pkg/pipeline"
)

// Ten samples with a flat stretch in the middle. With maxFlat 2 the
// scan yields segments [0,2) and [6,10): 2 segments, 6 rows.
const xFixture = `theTime,MJD,euvalue,sqldataType
2022-07-01 00:00:00.000,59761.0,1,real
2022-07-01 00:00:01.000,59761.1,2,real
2022-07-01 00:00:02.000,59761.2,3,real
2022-07-01 00:00:03.000,59761.3,3,real
2022-07-01 00:00:04.000,59761.4,3,real
2022-07-01 00:00:05.000,59761.5,3,real
2022-07-01 00:00:06.000,59761.6,4,real
2022-07-01 00:00:07.000,59761.7,5,real
2022-07-01 00:00:08.000,59761.8,6,real
2022-07-01 00:00:09.000,59761.9,7,real
`

const yFixture = `theTime,MJD,euvalue,sqldataType
2022-07-01 00:00:00.000,59761.0,0.5,real
2022-07-01 00:00:01.000,59761.1,0.5,real
2022-07-01 00:00:02.000,59761.2,0.5,real
2022-07-01 00:00:03.000,59761.3,0.5,real
2022-07-01 00:00:04.000,59761.4,0.5,real
2022-07-01 00:00:05.000,59761.5,0.5,real
2022-07-01 00:00:06.000,59761.6,0.5,real
2022-07-01 00:00:07.000,59761.7,0.5,real
2022-07-01 00:00:08.000,59761.8,0.5,real
2022-07-01 00:00:09.000,59761.9,0.5,real
`

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
	return path
}

func localJob(t *testing.T, dir string) Job {
	t.Helper()
	return Job{
		X:       Input{Path: writeFixture(t, dir, "x.csv", xFixture)},
		Y:       Input{Path: writeFixture(t, dir, "y.csv", yFixture)},
		Output:  filepath.Join(dir, "out.csv"),
		MaxFlat: 2,
	}
}

func TestRunnerLocalFiles(t *testing.T) {
	dir := t.TempDir()
	job := localJob(t, dir)

	var phases []string
	cfg := DefaultConfig()
	cfg.OnPhase = func(p string) { phases = append(phases, p) }

	res, err := NewRunner(cfg).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if res.XSamples != 10 || res.YSamples != 10 {
		t.Errorf("Expected 10 samples per channel, got %d and %d", res.XSamples, res.YSamples)
	}
	if res.Segments != 2 {
		t.Errorf("Expected 2 segments, got %d", res.Segments)
	}
	if res.RowsWritten != 6 {
		t.Errorf("Expected 6 rows written, got %d", res.RowsWritten)
	}
	if res.MJDMismatches != 0 {
		t.Errorf("Expected no MJD mismatches, got %d", res.MJDMismatches)
	}
	if res.RowsSkipped != 0 {
		t.Errorf("Expected no skipped rows, got %d", res.RowsSkipped)
	}
	if res.Duration <= 0 {
		t.Errorf("Expected positive duration, got %v", res.Duration)
	}

	want := []string{
		checkpoint.PhaseDecoding,
		checkpoint.PhaseSegmenting,
		checkpoint.PhaseWriting,
		checkpoint.PhaseComplete,
	}
	if len(phases) != len(want) {
		t.Fatalf("Expected phases %v, got %v", want, phases)
	}
	for i, p := range want {
		if phases[i] != p {
			t.Errorf("Expected phase %d to be %s, got %s", i, p, phases[i])
		}
	}

	data, err := os.ReadFile(job.Output)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 7 {
		t.Fatalf("Expected header plus 6 rows, got %d lines", len(lines))
	}
	if lines[0] != "segment,theTime,MJD,x,y" {
		t.Errorf("Unexpected header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0,") {
		t.Errorf("Expected first row in segment 0, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[3], "1,") {
		t.Errorf("Expected third row in segment 1, got %q", lines[3])
	}
}

func TestRunnerJSONOutput(t *testing.T) {
	dir := t.TempDir()
	job := localJob(t, dir)
	job.Output = filepath.Join(dir, "out.json")

	res, err := NewRunner(DefaultConfig()).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.RowsWritten != 6 {
		t.Errorf("Expected 6 rows written, got %d", res.RowsWritten)
	}

	data, err := os.ReadFile(job.Output)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	var doc []struct {
		Segment int `json:"segment"`
		Rows    int `json:"rows"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not a JSON document: %v", err)
	}
	if len(doc) != 2 {
		t.Fatalf("Expected 2 segment objects, got %d", len(doc))
	}
	if doc[0].Rows != 2 {
		t.Errorf("Expected 2 rows in segment 0, got %d", doc[0].Rows)
	}
	if doc[1].Rows != 4 {
		t.Errorf("Expected 4 rows in segment 1, got %d", doc[1].Rows)
	}
}

func TestRunnerGzipInput(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "x.csv.gz")
	f, err := os.Create(gzPath)
	if err != nil {
		t.Fatalf("creating gzip fixture: %v", err)
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write([]byte(xFixture)); err != nil {
		t.Fatalf("writing gzip fixture: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing gzip fixture: %v", err)
	}

	job := Job{
		X:       Input{Path: gzPath},
		Y:       Input{Path: writeFixture(t, dir, "y.csv", yFixture)},
		Output:  filepath.Join(dir, "out.csv"),
		MaxFlat: 2,
	}
	res, err := NewRunner(DefaultConfig()).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.XSamples != 10 {
		t.Errorf("Expected 10 samples from gzip input, got %d", res.XSamples)
	}
	if res.Segments != 2 {
		t.Errorf("Expected 2 segments, got %d", res.Segments)
	}
}

// fakeDownloader serves canned CSV bodies keyed by a URI substring.
type fakeDownloader struct {
	files map[string]string
	uris  []string
}

func (d *fakeDownloader) OpenDownload(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	d.uris = append(d.uris, uri)
	for key, body := range d.files {
		if strings.Contains(uri, key) {
			return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
		}
	}
	return nil, 0, os.ErrNotExist
}

func TestRunnerMnemonicFetch(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeDownloader{files: map[string]string{
		"sa_zhgaupaz": xFixture,
		"sa_zhgaupst": yFixture,
	}}

	cfg := DefaultConfig()
	cfg.Downloader = fake

	job := Job{
		X:       Input{Mnemonic: "SA_ZHGAUPAZ"},
		Y:       Input{Mnemonic: "SA_ZHGAUPST"},
		Start:   time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2022, 7, 1, 0, 1, 0, 0, time.UTC),
		Output:  filepath.Join(dir, "out.csv"),
		MaxFlat: 2,
	}
	res, err := NewRunner(cfg).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if res.Segments != 2 {
		t.Errorf("Expected 2 segments, got %d", res.Segments)
	}
	wantBytes := int64(len(xFixture) + len(yFixture))
	if res.BytesFetched != wantBytes {
		t.Errorf("Expected %d fetched bytes, got %d", wantBytes, res.BytesFetched)
	}
	if len(fake.uris) != 2 {
		t.Fatalf("Expected 2 archive requests, got %d", len(fake.uris))
	}
	if !strings.Contains(fake.uris[0], "sa_zhgaupaz") {
		t.Errorf("Expected first request for sa_zhgaupaz, got %q", fake.uris[0])
	}
}

func TestRunnerValidation(t *testing.T) {
	dir := t.TempDir()
	x := writeFixture(t, dir, "x.csv", xFixture)
	y := writeFixture(t, dir, "y.csv", yFixture)
	out := filepath.Join(dir, "out.csv")

	tests := []struct {
		name string
		cfg  Config
		job  Job
		code errors.Code
	}{
		{
			name: "zero max flat",
			cfg:  DefaultConfig(),
			job:  Job{X: Input{Path: x}, Y: Input{Path: y}, Output: out},
			code: errors.CodeInvalidMaxFlat,
		},
		{
			name: "missing output",
			cfg:  DefaultConfig(),
			job:  Job{X: Input{Path: x}, Y: Input{Path: y}, MaxFlat: 2},
			code: errors.CodeInvalidFormat,
		},
		{
			name: "empty channel",
			cfg:  DefaultConfig(),
			job:  Job{X: Input{Path: x}, Output: out, MaxFlat: 2},
			code: errors.CodeInvalidFormat,
		},
		{
			name: "mnemonic without downloader",
			cfg:  DefaultConfig(),
			job: Job{
				X: Input{Mnemonic: "SA_ZHGAUPAZ"}, Y: Input{Path: y},
				Start: time.Now().Add(-time.Hour), End: time.Now(),
				Output: out, MaxFlat: 2,
			},
			code: errors.CodeInvalidFormat,
		},
		{
			name: "mnemonic without window",
			cfg:  Config{Downloader: &fakeDownloader{}},
			job: Job{
				X: Input{Mnemonic: "SA_ZHGAUPAZ"}, Y: Input{Path: y},
				Output: out, MaxFlat: 2,
			},
			code: errors.CodeInvalidFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.cfg).Run(context.Background(), tt.job)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("Expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestRunnerCheckpointResume(t *testing.T) {
	dir := t.TempDir()
	job := localJob(t, dir)

	backend, err := checkpoint.NewLocalBackend(filepath.Join(dir, "checkpoints"))
	if err != nil {
		t.Fatalf("NewLocalBackend error: %v", err)
	}

	// A prior run left an incomplete checkpoint for the same source.
	prior := backend.Manager().Create("job_prior", job.Source(), job.Output)
	prior.SetPhase(checkpoint.PhaseWriting)
	if err := prior.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Backend = backend
	if _, err := NewRunner(cfg).Run(context.Background(), job); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	cp, err := backend.Manager().Load("job_prior")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cp.Phase != checkpoint.PhaseComplete {
		t.Errorf("Expected phase %s, got %s", checkpoint.PhaseComplete, cp.Phase)
	}
	if cp.RowsDecoded != 20 {
		t.Errorf("Expected 20 decoded rows, got %d", cp.RowsDecoded)
	}
	if cp.SegmentsFound != 2 {
		t.Errorf("Expected 2 segments, got %d", cp.SegmentsFound)
	}
	if cp.RowsWritten != 6 {
		t.Errorf("Expected 6 written rows, got %d", cp.RowsWritten)
	}
	if cp.Metadata["engine"] != "arrow" {
		t.Errorf("Expected engine annotation, got %v", cp.Metadata["engine"])
	}
	if cp.CompletedAt == nil {
		t.Error("Expected completion timestamp")
	}

	incomplete, err := backend.ListIncomplete(context.Background())
	if err != nil {
		t.Fatalf("ListIncomplete error: %v", err)
	}
	if len(incomplete) != 0 {
		t.Errorf("Expected no incomplete checkpoints, got %d", len(incomplete))
	}
}

const dirtyFixture = `theTime,MJD,euvalue,sqldataType
2022-07-01 00:00:00.000,59761.0,1,real
2022-07-01 00:00:01.000,notanmjd,2,real
oops
2022-07-01 00:00:02.000,59761.2,3,real
2022-07-01 00:00:03.000,59761.3,4,real
2022-07-01 00:00:04.000,59761.4,5,real
`

func TestRunnerQuarantine(t *testing.T) {
	dir := t.TempDir()
	qdir := filepath.Join(dir, "rejects")

	// The y fixture mirrors the clean rows of the dirty file.
	clean := `theTime,MJD,euvalue,sqldataType
2022-07-01 00:00:00.000,59761.0,0.5,real
2022-07-01 00:00:02.000,59761.2,0.5,real
2022-07-01 00:00:03.000,59761.3,0.5,real
2022-07-01 00:00:04.000,59761.4,0.5,real
`

	cfg := DefaultConfig()
	cfg.ErrorPolicy = pipeline.ErrorPolicyQuarantine
	cfg.QuarantineDir = qdir

	job := Job{
		X:       Input{Path: writeFixture(t, dir, "x.csv", dirtyFixture)},
		Y:       Input{Path: writeFixture(t, dir, "y.csv", clean)},
		Output:  filepath.Join(dir, "out.csv"),
		MaxFlat: 2,
	}
	res, err := NewRunner(cfg).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if res.XSamples != 4 {
		t.Errorf("Expected 4 clean samples, got %d", res.XSamples)
	}
	if res.Errors.ErrorCount != 2 {
		t.Errorf("Expected 2 errors, got %d", res.Errors.ErrorCount)
	}
	if res.Errors.SkippedCount != 2 {
		t.Errorf("Expected 2 skipped rows, got %d", res.Errors.SkippedCount)
	}

	summary, err := pipeline.SummarizeQuarantine(qdir)
	if err != nil {
		t.Fatalf("SummarizeQuarantine error: %v", err)
	}
	if summary.TotalRecords != 2 {
		t.Errorf("Expected 2 quarantined records, got %d", summary.TotalRecords)
	}
	if summary.ErrorTypes["invalid_mjd"] != 1 {
		t.Errorf("Expected 1 invalid_mjd record, got %d", summary.ErrorTypes["invalid_mjd"])
	}
	if summary.ErrorTypes["malformed_row"] != 1 {
		t.Errorf("Expected 1 malformed_row record, got %d", summary.ErrorTypes["malformed_row"])
	}
}

func TestRunnerMaxErrors(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.MaxErrors = 1

	job := Job{
		X:       Input{Path: writeFixture(t, dir, "x.csv", dirtyFixture)},
		Y:       Input{Path: writeFixture(t, dir, "y.csv", yFixture)},
		Output:  filepath.Join(dir, "out.csv"),
		MaxFlat: 2,
	}
	_, err := NewRunner(cfg).Run(context.Background(), job)
	if err == nil {
		t.Fatal("Expected error limit breach, got nil")
	}
	if !errors.IsCode(err, errors.CodeProcessFailed) {
		t.Errorf("Expected code %s, got %v", errors.CodeProcessFailed, err)
	}
	if !strings.Contains(err.Error(), "maximum error count") {
		t.Errorf("Expected error limit message, got %q", err.Error())
	}
}

func TestRunnerStrictAborts(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ErrorPolicy = pipeline.ErrorPolicyStrict

	job := Job{
		X:       Input{Path: writeFixture(t, dir, "x.csv", dirtyFixture)},
		Y:       Input{Path: writeFixture(t, dir, "y.csv", yFixture)},
		Output:  filepath.Join(dir, "out.csv"),
		MaxFlat: 2,
	}
	_, err := NewRunner(cfg).Run(context.Background(), job)
	if err == nil {
		t.Fatal("Expected strict decode error, got nil")
	}
	if !errors.IsCode(err, errors.CodeInvalidMJD) {
		t.Errorf("Expected code %s, got %v", errors.CodeInvalidMJD, err)
	}
}

func TestRunnerMJDWindow(t *testing.T) {
	dir := t.TempDir()
	job := localJob(t, dir)

	cfg := DefaultConfig()
	cfg.MJDStart = 59761.55

	res, err := NewRunner(cfg).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Segments != 2 {
		t.Errorf("Expected 2 segments before filtering, got %d", res.Segments)
	}
	if res.RowsWritten != 4 {
		t.Errorf("Expected 4 rows inside the window, got %d", res.RowsWritten)
	}
}

func TestRunnerStats(t *testing.T) {
	dir := t.TempDir()
	job := localJob(t, dir)

	cfg := DefaultConfig()
	cfg.CollectStats = true

	res, err := NewRunner(cfg).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Stats == nil {
		t.Fatal("Expected statistics report")
	}
	if res.Stats.TotalRows != 6 {
		t.Errorf("Expected 6 total rows, got %d", res.Stats.TotalRows)
	}
	if len(res.Stats.Segments) != 2 {
		t.Fatalf("Expected 2 segment entries, got %d", len(res.Stats.Segments))
	}
	if res.Stats.Segments[0].Rows != 2 {
		t.Errorf("Expected 2 rows in segment 0, got %d", res.Stats.Segments[0].Rows)
	}
}

func TestRunnerMismatchedMJDKeys(t *testing.T) {
	dir := t.TempDir()

	// Index 3 carries a different MJD key on the y channel.
	shifted := strings.Replace(yFixture,
		"2022-07-01 00:00:03.000,59761.3,0.5,real",
		"2022-07-01 00:00:03.000,59761.35,0.5,real", 1)

	job := Job{
		X:       Input{Path: writeFixture(t, dir, "x.csv", xFixture)},
		Y:       Input{Path: writeFixture(t, dir, "y.csv", shifted)},
		Output:  filepath.Join(dir, "out.csv"),
		MaxFlat: 2,
	}
	res, err := NewRunner(DefaultConfig()).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.MJDMismatches != 1 {
		t.Errorf("Expected 1 MJD mismatch, got %d", res.MJDMismatches)
	}
}

func TestParseEngine(t *testing.T) {
	tests := []struct {
		input   string
		want    Engine
		wantErr bool
	}{
		{"", EngineArrow, false},
		{"arrow", EngineArrow, false},
		{"duckdb", EngineDuckDB, false},
		{"sqlite", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEngine(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEngine(%q): expected error, got nil", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEngine(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEngine(%q): expected %s, got %s", tt.input, tt.want, got)
		}
	}
}
