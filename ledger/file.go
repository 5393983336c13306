package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/glazyr/paygate/types"
)

// FileStore keeps the ledger in a single JSON file, rewritten in full on
// every mutation. A mutex holds the whole load-mutate-save cycle so
// concurrent requests cannot lose updates, and writes go through a temp
// file + rename so a crash mid-write never leaves a torn ledger behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed ledger at path, creating the parent
// directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.PersistenceError(
			fmt.Sprintf("creating ledger directory for %s", path), err)
	}
	return &FileStore{path: path}, nil
}

// load reads the ledger file. A missing file is an empty ledger; an
// unparseable one is a persistence error, never silently discarded.
func (s *FileStore) load() (*types.Ledger, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return types.NewLedger(), nil
	}
	if err != nil {
		return nil, types.PersistenceError("reading ledger file", err)
	}

	l := types.NewLedger()
	if err := json.Unmarshal(data, l); err != nil {
		return nil, types.PersistenceError("ledger file is corrupt", err)
	}
	if l.Credits == nil {
		l.Credits = make(map[string]int64)
	}
	return l, nil
}

func (s *FileStore) save(l *types.Ledger) error {
	data, err := json.MarshalIndent(l, "", "    ")
	if err != nil {
		return types.PersistenceError("encoding ledger", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return types.PersistenceError("creating ledger temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return types.PersistenceError("writing ledger temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return types.PersistenceError("closing ledger temp file", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return types.PersistenceError("replacing ledger file", err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (*types.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save overwrites the ledger with l. Primarily for tests and tooling;
// normal mutation goes through the convenience operations.
func (s *FileStore) Save(ctx context.Context, l *types.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(l)
}

// HasConsumed implements Store.
func (s *FileStore) HasConsumed(ctx context.Context, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load()
	if err != nil {
		return false, err
	}
	return l.HasConsumed(txHash), nil
}

// MarkConsumed implements Store.
func (s *FileStore) MarkConsumed(ctx context.Context, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load()
	if err != nil {
		return err
	}
	if l.HasConsumed(txHash) {
		return nil
	}
	l.MarkConsumed(txHash)
	return s.save(l)
}

// Credits implements Store.
func (s *FileStore) Credits(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load()
	if err != nil {
		return 0, err
	}
	return l.CreditsFor(sessionID), nil
}

// GrantCredits implements Store.
func (s *FileStore) GrantCredits(ctx context.Context, sessionID string, frames int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load()
	if err != nil {
		return err
	}
	l.Grant(sessionID, frames)
	return s.save(l)
}

// ConsumeCredit implements Store.
func (s *FileStore) ConsumeCredit(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load()
	if err != nil {
		return false, err
	}
	if !l.ConsumeOne(sessionID) {
		return false, nil
	}
	if err := s.save(l); err != nil {
		return false, err
	}
	return true, nil
}

// Redeem implements Store. Mark + grant land in one write.
func (s *FileStore) Redeem(ctx context.Context, txHash, sessionID string, frames int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load()
	if err != nil {
		return err
	}
	if l.HasConsumed(txHash) {
		return ReplayError()
	}
	l.MarkConsumed(txHash)
	l.Grant(sessionID, frames)
	return s.save(l)
}
