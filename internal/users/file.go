package users

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Compile-time check that FileRepository implements Repository.
var _ Repository = (*FileRepository)(nil)

// fileDoc is the on-disk layout of a FileRepository.
type fileDoc struct {
	Version int      `json:"version"`
	Users   []Record `json:"users"`
}

// FileRepository keeps the whole directory in one JSON document and
// rewrites it in full on every mutation (temp file, fsync, rename).
type FileRepository struct {
	path string

	mu      sync.Mutex
	records []Record
	index   map[string]int
}

// OpenFileRepository opens the document at path, creating an empty one if
// it does not exist.
func OpenFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating user store dir: %w", err)
	}

	r := &FileRepository{path: path, index: map[string]int{}}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := r.write(nil); err != nil {
			return nil, fmt.Errorf("creating empty user store: %w", err)
		}
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("reading user store %s: %w", path, err)
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing user store %s: %w", path, err)
	}
	for i, rec := range doc.Users {
		if _, dup := r.index[rec.Email]; dup {
			return nil, fmt.Errorf("parsing user store %s: duplicate email %q", path, rec.Email)
		}
		if rec.History == nil {
			doc.Users[i].History = []string{}
		}
		r.index[rec.Email] = i
	}
	r.records = doc.Users
	return r, nil
}

// Path returns the document location.
func (r *FileRepository) Path() string { return r.path }

func (r *FileRepository) LoadUsers(_ context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.clone()
	}
	return out, nil
}

func (r *FileRepository) InsertUser(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[rec.Email]; ok {
		return ErrAlreadyRegistered
	}
	rec = rec.clone()
	if rec.History == nil {
		rec.History = []string{}
	}
	next := append(r.cloneAll(), rec)
	if err := r.write(next); err != nil {
		return err
	}
	r.records = next
	r.index[rec.Email] = len(next) - 1
	return nil
}

func (r *FileRepository) UpdateCredential(_ context.Context, email, credential string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[email]
	if !ok {
		return ErrUnknownUser
	}
	next := r.cloneAll()
	next[i].Credential = credential
	if err := r.write(next); err != nil {
		return err
	}
	r.records = next
	return nil
}

func (r *FileRepository) AppendHistory(_ context.Context, email, title string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[email]
	if !ok {
		return ErrUnknownUser
	}
	next := r.cloneAll()
	next[i].History = append(next[i].History, title)
	if err := r.write(next); err != nil {
		return err
	}
	r.records = next
	return nil
}

func (r *FileRepository) cloneAll() []Record {
	out := make([]Record, len(r.records), len(r.records)+1)
	for i, rec := range r.records {
		out[i] = rec.clone()
	}
	return out
}

// write atomically replaces the document with records.
func (r *FileRepository) write(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(fileDoc{Version: 1, Users: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding user store: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replacing user store: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening store dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing store dir: %w", err)
	}
	return nil
}
