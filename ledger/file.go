package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/use-agent/harvest/models"
)

// FileSeenSet keeps the seen-set as a JSON array of strings, rewritten in
// full through a temp file and rename after every new member.
type FileSeenSet struct {
	path    string
	members map[string]struct{}
	order   []string
}

// OpenFileSeenSet loads path. A missing file is an empty set. A file that
// does not decode is moved aside to path+".corrupt" and treated as empty;
// any other read error is returned.
func OpenFileSeenSet(path string) (*FileSeenSet, error) {
	s := &FileSeenSet{path: path, members: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("ledger: read seen-set: %w", err)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		aside := path + ".corrupt"
		slog.Warn("seen-set does not decode, starting empty",
			"path", path, "movedTo", aside, "error", err)
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, fmt.Errorf("ledger: move corrupt seen-set aside: %w", renameErr)
		}
		return s, nil
	}
	for _, t := range list {
		s.insert(t)
	}
	return s, nil
}

func (s *FileSeenSet) insert(t string) bool {
	if _, ok := s.members[t]; ok {
		return false
	}
	s.members[t] = struct{}{}
	s.order = append(s.order, t)
	return true
}

func (s *FileSeenSet) Contains(_ context.Context, target string) (bool, error) {
	_, ok := s.members[target]
	return ok, nil
}

func (s *FileSeenSet) Add(_ context.Context, target string) error {
	if !s.insert(target) {
		return nil
	}
	data, err := json.Marshal(s.order)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		// Keep memory consistent with disk: the member is not durable.
		delete(s.members, target)
		s.order = s.order[:len(s.order)-1]
		return err
	}
	return nil
}

func (s *FileSeenSet) Members(_ context.Context) ([]string, error) {
	return append([]string(nil), s.order...), nil
}

// Len returns the member count.
func (s *FileSeenSet) Len() int { return len(s.order) }

func (s *FileSeenSet) Close() error { return nil }

// writeFileAtomic writes data to a temp file in path's directory, syncs it
// and renames it over path, so readers see the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ledger: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("ledger: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("ledger: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("ledger: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("ledger: rename: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// FileResultLog appends one JSON object per line and syncs after each.
type FileResultLog struct {
	f *os.File
}

// OpenFileResultLog opens path for appending, creating it if needed.
func OpenFileResultLog(path string) (*FileResultLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open results log: %w", err)
	}
	return &FileResultLog{f: f}, nil
}

func (l *FileResultLog) Append(_ context.Context, rec *models.Company) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := l.f.Write(line); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *FileResultLog) Close() error { return l.f.Close() }

// ReadResults decodes every record of a results log. A missing file yields
// no records.
func ReadResults(path string) ([]models.Company, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []models.Company
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var c models.Company
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("ledger: decode result line: %w", err)
		}
		out = append(out, c)
	}
	return out, sc.Err()
}
