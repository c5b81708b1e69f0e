package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rustyeddy/trailguard/exchange"
)

const fileExt = ".json"

// File stores one JSON document per key under Dir, named after Key.Name.
// Writes go through a temp file and rename so a crash never leaves a torn
// record behind.
type File struct {
	Dir    string
	logger *slog.Logger
}

// fileRecord is the on-disk layout. The symbol is kept inside the document
// because the file name encoding is lossy.
type fileRecord struct {
	Symbol string        `json:"symbol"`
	Side   exchange.Side `json:"side"`
	Trailing
}

func NewFile(dir string, logger *slog.Logger) (*File, error) {
	if dir == "" {
		return nil, errors.New("file state: empty dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file state: mkdir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &File{Dir: dir, logger: logger}, nil
}

func (f *File) path(key Key) string {
	return filepath.Join(f.Dir, key.Name()+fileExt)
}

func (f *File) Get(_ context.Context, key Key) (Trailing, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Trailing{}, ErrNotFound
	}
	if err != nil {
		return Trailing{}, fmt.Errorf("file state: read %s: %w", key, err)
	}
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return Trailing{}, fmt.Errorf("file state: decode %s: %w", key, err)
	}
	return rec.Trailing, nil
}

func (f *File) Put(_ context.Context, key Key, t Trailing) error {
	if err := key.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(fileRecord{Symbol: key.Symbol, Side: key.Side, Trailing: t}, "", "    ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.path(key), b, 0o600); err != nil {
		return fmt.Errorf("file state: write %s: %w", key, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key Key) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file state: remove %s: %w", key, err)
	}
	return nil
}

// List reads every record in Dir. Unreadable files are logged and skipped so
// one corrupt document cannot hide the rest from the reconciler.
func (f *File) List(_ context.Context) ([]Record, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return nil, fmt.Errorf("file state: list %s: %w", f.Dir, err)
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		p := filepath.Join(f.Dir, e.Name())
		b, err := os.ReadFile(p)
		if err != nil {
			f.logger.Warn("skip unreadable state file", "path", p, "err", err)
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			f.logger.Warn("skip corrupt state file", "path", p, "err", err)
			continue
		}
		key := Key{Symbol: rec.Symbol, Side: rec.Side}
		if key.Validate() != nil {
			f.logger.Warn("skip state file without key", "path", p)
			continue
		}
		out = append(out, Record{Key: key, Trailing: rec.Trailing})
	}
	sortRecords(out)
	return out, nil
}

func (f *File) Close() error { return nil }

// writeFileAtomic writes data to path atomically (tmp file + fsync + rename)
// and then syncs the parent directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	// best-effort fsync parent dir (Unix)
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
