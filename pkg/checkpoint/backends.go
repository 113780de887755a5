package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Backend defines the interface for checkpoint storage backends.
// Implementations can store checkpoints locally, in Redis, or in S3.
type Backend interface {
	// Save persists a checkpoint to the backend.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves a checkpoint by ID.
	Load(ctx context.Context, id string) (*Checkpoint, error)

	// Delete removes a checkpoint.
	Delete(ctx context.Context, id string) error

	// ListIncomplete returns all checkpoints that haven't completed.
	ListIncomplete(ctx context.Context) ([]*Checkpoint, error)

	// FindBySource finds an incomplete checkpoint for the given source.
	FindBySource(ctx context.Context, source string) (*Checkpoint, error)

	// Name returns the backend name for logging.
	Name() string
}

// LocalBackend wraps the file-based Manager as a Backend.
type LocalBackend struct {
	mgr *Manager
}

// NewLocalBackend creates a backend using the local filesystem.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	mgr, err := NewManager(dir)
	if err != nil {
		return nil, err
	}
	return &LocalBackend{mgr: mgr}, nil
}

// Save persists a checkpoint to the local filesystem.
func (b *LocalBackend) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.path == "" {
		// Adopted checkpoint, anchor it in this backend's directory
		cp.path = filepath.Join(b.mgr.dir, cp.ID+".checkpoint")
		b.mgr.mu.Lock()
		b.mgr.active[cp.ID] = cp
		b.mgr.mu.Unlock()
	}
	return cp.Save()
}

// Load retrieves a checkpoint from the local filesystem.
func (b *LocalBackend) Load(ctx context.Context, id string) (*Checkpoint, error) {
	return b.mgr.Load(id)
}

// Delete removes a checkpoint from the local filesystem.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	return b.mgr.Delete(id)
}

// ListIncomplete returns all incomplete checkpoints.
func (b *LocalBackend) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	return b.mgr.ListIncomplete()
}

// FindBySource finds an incomplete checkpoint for the source.
func (b *LocalBackend) FindBySource(ctx context.Context, source string) (*Checkpoint, error) {
	return b.mgr.Find(source)
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}

// Manager returns the underlying file-based manager.
func (b *LocalBackend) Manager() *Manager {
	return b.mgr
}

// FindOrCreate finds a resumable checkpoint for the source or creates
// a fresh one. The boolean reports whether an existing job is resumed.
func FindOrCreate(ctx context.Context, backend Backend, source, outputPath string) (*Checkpoint, bool, error) {
	existing, err := backend.FindBySource(ctx, source)
	if err == nil && existing.ShouldResume() {
		return existing, true, nil
	}

	cp := &Checkpoint{
		ID:         generateID(),
		Source:     source,
		OutputPath: outputPath,
		Phase:      PhaseStarting,
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		Metadata:   make(map[string]interface{}),
	}

	if err := backend.Save(ctx, cp); err != nil {
		return nil, false, err
	}

	return cp, false, nil
}

func generateID() string {
	return fmt.Sprintf("job_%s_%s",
		time.Now().Format("20060102-150405"),
		uuid.New().String()[:8])
}
