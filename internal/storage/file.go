package storage

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"trustchain/internal/state"
	logx "trustchain/pkg/logx"
)

const compactEvery = 256

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot, hex key -> value)
//   - <prefix>.journal.jsonl (append-only, one committed batch per line)
//
// A batch is one JSON line, so a torn write at crash time loses at most the
// last block and never half of it. The journal is periodically compacted into
// the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.RWMutex

	snapshotPath string
	journal      *os.File
	m            map[string][]byte

	writes int
}

type fileChange struct {
	K string `json:"k"`
	V []byte `json:"v,omitempty"`
	D bool   `json:"d,omitempty"`
}

type fileBatch struct {
	Changes []fileChange `json:"changes"`
}

func openFile(cfg Config, log logx.Logger) (KV, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	m := map[string][]byte{}
	if err := loadSnapshot(snapPath, m); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, m, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		m:            m,
	}, nil
}

func (s *fileStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return nil, false, ErrClosed
	}
	v, ok := s.m[hex.EncodeToString(key)]
	return v, ok, nil
}

func (s *fileStore) Commit(ctx context.Context, changes []state.Change) error {
	_ = ctx
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}

	b := fileBatch{Changes: make([]fileChange, 0, len(changes))}
	for _, c := range changes {
		b.Changes = append(b.Changes, fileChange{K: hex.EncodeToString(c.Key), V: c.Value, D: c.Delete})
	}
	// Journal first: memory only reflects what is durable.
	if err := json.NewEncoder(s.journal).Encode(b); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	applyBatch(s.m, b)

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.m); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func applyBatch(m map[string][]byte, b fileBatch) {
	for _, c := range b.Changes {
		if c.D {
			delete(m, c.K)
			continue
		}
		m[c.K] = c.V
	}
}

func loadSnapshot(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]byte
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string][]byte, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		var b fileBatch
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			// Torn tail from a crash mid-append.
			log.Warn("storage journal: skipping unreadable batch", logx.Err(err))
			continue
		}
		applyBatch(out, b)
	}
	return sc.Err()
}
