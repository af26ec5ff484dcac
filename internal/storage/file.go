package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "hotlabel/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.completions.jsonl (append-only JSON Lines, rewritten on prune)
//   - <prefix>.sessions.json     (snapshot, rewritten on every change)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	completionsPath string
	completionsFile *os.File

	sessionsPath string
	sessions     map[string]string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:             log,
		completionsPath: prefix + ".completions.jsonl",
		sessionsPath:    prefix + ".sessions.json",
		sessions:        map[string]string{},
	}
	if err := loadSessions(s.sessionsPath, s.sessions); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("session snapshot unreadable; starting empty", logx.Err(err))
	}

	f, err := os.OpenFile(s.completionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.completionsFile = f
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completionsFile == nil {
		return nil
	}
	err := s.completionsFile.Close()
	s.completionsFile = nil
	return err
}

func (s *fileStore) AppendCompletion(ctx context.Context, r CompletionRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completionsFile == nil {
		return errors.New("completions file closed")
	}
	return json.NewEncoder(s.completionsFile).Encode(r)
}

func (s *fileStore) ListCompletions(ctx context.Context) ([]CompletionRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return readCompletions(s.completionsPath)
}

func (s *fileStore) PruneCompletions(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completionsFile == nil {
		return 0, errors.New("completions file closed")
	}

	all, err := readCompletions(s.completionsPath)
	if err != nil {
		return 0, err
	}
	keep := all[:0]
	for _, r := range all {
		if r.CompletedAt.Before(before) {
			continue
		}
		keep = append(keep, r)
	}
	removed := len(all) - len(keep)
	if removed == 0 {
		return 0, nil
	}

	tmp := s.completionsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	// Swap files and reopen the append handle on the new one.
	_ = s.completionsFile.Close()
	s.completionsFile = nil
	if err := os.Rename(tmp, s.completionsPath); err != nil {
		return 0, err
	}
	nf, err := os.OpenFile(s.completionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.completionsFile = nf
	s.log.Debug("completions pruned", logx.Int("removed", removed), logx.Int("kept", len(keep)))
	return removed, nil
}

func (s *fileStore) PutSession(ctx context.Context, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = value
	return s.writeSessionsLocked()
}

func (s *fileStore) GetSession(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions[key]
	return v, ok, nil
}

func (s *fileStore) Purge(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]string{}
	err := os.Remove(s.sessionsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) writeSessionsLocked() error {
	tmp := s.sessionsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.sessions); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.sessionsPath)
}

func loadSessions(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// readCompletions skips malformed lines (e.g. a torn write after a crash).
func readCompletions(path string) ([]CompletionRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []CompletionRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r CompletionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.TaskID == "" {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
