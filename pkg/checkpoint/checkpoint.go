// Package checkpoint provides resume capability for interrupted jobs.
// Batch fetches and long exports record progress here so a rerun can
// skip work that already completed.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Job phases, in order of progression.
const (
	PhaseStarting   = "starting"
	PhaseFetching   = "fetching"
	PhaseDecoding   = "decoding"
	PhaseSegmenting = "segmenting"
	PhaseWriting    = "writing"
	PhaseComplete   = "complete"
)

// Checkpoint tracks job progress for resume capability.
type Checkpoint struct {
	// Identification
	ID         string `json:"id"`
	Source     string `json:"source"` // mnemonic pair or input file pair
	OutputPath string `json:"output_path"`

	// Progress
	BytesFetched  int64 `json:"bytes_fetched"`
	RowsDecoded   int64 `json:"rows_decoded"`
	RowsSkipped   int64 `json:"rows_skipped"`
	SegmentsFound int   `json:"segments_found"`
	RowsWritten   int64 `json:"rows_written"`

	// State
	Phase       string     `json:"phase"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Metadata carries job annotations (engine, sink format, mnemonics).
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Internal
	path string
	mu   sync.Mutex
}

// Manager handles checkpoint persistence on the local filesystem.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	active map[string]*Checkpoint
}

// NewManager creates a checkpoint manager rooted at checkpointDir.
func NewManager(checkpointDir string) (*Manager, error) {
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Manager{
		dir:    checkpointDir,
		active: make(map[string]*Checkpoint),
	}, nil
}

// Create creates a new checkpoint for a job.
func (m *Manager) Create(id, source, outputPath string) *Checkpoint {
	cp := &Checkpoint{
		ID:         id,
		Source:     source,
		OutputPath: outputPath,
		Phase:      PhaseStarting,
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		Metadata:   make(map[string]interface{}),
		path:       filepath.Join(m.dir, id+".checkpoint"),
	}

	m.mu.Lock()
	m.active[id] = cp
	m.mu.Unlock()

	cp.Save()
	return cp
}

// Load loads a checkpoint from disk.
func (m *Manager) Load(id string) (*Checkpoint, error) {
	path := filepath.Join(m.dir, id+".checkpoint")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	cp.path = path

	m.mu.Lock()
	m.active[id] = &cp
	m.mu.Unlock()

	return &cp, nil
}

// Find finds an incomplete checkpoint for a source.
func (m *Manager) Find(source string) (*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}

		if cp.Source == source && cp.Phase != PhaseComplete {
			cp.path = path
			return &cp, nil
		}
	}

	return nil, os.ErrNotExist
}

// Delete removes a checkpoint.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	path := filepath.Join(m.dir, id+".checkpoint")
	return os.Remove(path)
}

// ListIncomplete returns all incomplete checkpoints.
func (m *Manager) ListIncomplete() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}

		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}

		if cp.Phase != PhaseComplete {
			cp.path = filepath.Join(m.dir, entry.Name())
			checkpoints = append(checkpoints, &cp)
		}
	}

	return checkpoints, nil
}

// Cleanup removes checkpoint files older than maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// --- Checkpoint Methods ---

// Update updates the decode and write counters.
func (c *Checkpoint) Update(rowsDecoded, rowsWritten int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.RowsDecoded = rowsDecoded
	c.RowsWritten = rowsWritten
	c.UpdatedAt = time.Now()
}

// AddBytesFetched accumulates downloaded bytes.
func (c *Checkpoint) AddBytesFetched(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.BytesFetched += n
	c.UpdatedAt = time.Now()
}

// SetPhase updates the phase.
func (c *Checkpoint) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Phase = phase
	c.UpdatedAt = time.Now()

	if phase == PhaseComplete {
		now := time.Now()
		c.CompletedAt = &now
	}
}

// SetSegments records the number of segments found.
func (c *Checkpoint) SetSegments(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SegmentsFound = n
	c.UpdatedAt = time.Now()
}

// SetSkipped records the number of skipped input rows.
func (c *Checkpoint) SetSkipped(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.RowsSkipped = n
	c.UpdatedAt = time.Now()
}

// SetMetadata sets a metadata value.
func (c *Checkpoint) SetMetadata(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata[key] = value
}

// Save persists the checkpoint to disk.
func (c *Checkpoint) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, c.path)
}

// ShouldResume returns true if this checkpoint represents unfinished work.
func (c *Checkpoint) ShouldResume() bool {
	return c.Phase != PhaseComplete && c.Phase != PhaseStarting
}

// Duration returns how long the job has been running.
func (c *Checkpoint) Duration() time.Duration {
	if c.CompletedAt != nil {
		return c.CompletedAt.Sub(c.StartedAt)
	}
	return time.Since(c.StartedAt)
}

// StartAutoSave starts automatic checkpoint saving.
// The returned function stops the saver and writes a final snapshot.
func (c *Checkpoint) StartAutoSave(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				c.Save()
				return
			case <-ticker.C:
				c.Save()
			}
		}
	}()
	return func() { close(done) }
}
