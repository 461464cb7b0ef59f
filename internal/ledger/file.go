package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore is a flat-file ledger. Each line is
//
//	id:state:unix-seconds[:originalPath]
//
// Loading scans every line and keeps the last record per id; every update
// rewrites the compacted file through a temp file and rename, so a crash
// leaves either the old or the new file, never a torn one.
type FileStore struct {
	path    string
	order   []string
	records map[string]Record
	logger  *slog.Logger
}

// OpenFile loads (or creates on first write) the ledger at path.
func OpenFile(path string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	s := &FileStore{path: path, records: make(map[string]Record), logger: buildOptions(opts).logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, ok := parseLine(line)
		if !ok {
			s.logger.Warn("skipping malformed ledger line", "path", s.path, "line", lineNum)
			continue
		}
		s.put(rec)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	return nil
}

func parseLine(line string) (Record, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 3 || parts[0] == "" {
		return Record{}, false
	}
	state := State(parts[1])
	if !state.valid() {
		return Record{}, false
	}
	secs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Record{}, false
	}
	rec := Record{ID: parts[0], State: state, Updated: time.Unix(secs, 0)}
	if len(parts) == 4 {
		rec.OriginalPath = parts[3]
	}
	return rec, true
}

func formatLine(rec Record) string {
	line := rec.ID + ":" + string(rec.State) + ":" + strconv.FormatInt(rec.Updated.Unix(), 10)
	if rec.OriginalPath != "" {
		line += ":" + strings.ReplaceAll(rec.OriginalPath, "\n", " ")
	}
	return line
}

// put removes any previous record for rec.ID and appends rec.
func (s *FileStore) put(rec Record) {
	if _, ok := s.records[rec.ID]; ok {
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == rec.ID })
	}
	s.order = append(s.order, rec.ID)
	s.records[rec.ID] = rec
}

func (s *FileStore) IsCompleted(id string) bool {
	rec, ok := s.records[id]
	return ok && rec.State == Completed
}

func (s *FileStore) MarkInProgress(id, path string) error {
	return s.mark(id, path, InProgress)
}

func (s *FileStore) MarkCompleted(id, path string) error {
	return s.mark(id, path, Completed)
}

func (s *FileStore) mark(id, path string, state State) error {
	prevOrder := slices.Clone(s.order)
	prev, had := s.records[id]

	s.put(Record{ID: id, State: state, Updated: now(), OriginalPath: path})
	if err := s.flush(); err != nil {
		s.order = prevOrder
		if had {
			s.records[id] = prev
		} else {
			delete(s.records, id)
		}
		return err
	}
	return nil
}

func (s *FileStore) Reset() error {
	s.order = nil
	s.records = make(map[string]Record)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

func (s *FileStore) Records() (map[string]Record, error) {
	return maps.Clone(s.records), nil
}

// Path returns the ledger file path.
func (s *FileStore) Path() string {
	return s.path
}

func (*FileStore) Close() error { return nil }

func (s *FileStore) flush() error {
	var buf bytes.Buffer
	for _, id := range s.order {
		buf.WriteString(formatLine(s.records[id]))
		buf.WriteByte('\n')
	}

	tmp := filepath.Join(filepath.Dir(s.path), "."+filepath.Base(s.path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
