package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/runningwild/glowfit/pkg/record"
)

// FilenameField holds the path a measurement was imported from.
const FilenameField = "filename"

// ReadFile parses one JSON measurement file into a record.
func ReadFile(path string) (record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec := record.New()
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	rec[FilenameField] = path
	return Normalize(rec), nil
}

// ReadFiles imports measurement files in order and returns their ids.
func ReadFiles(ctx context.Context, s Storage, paths []string) ([]string, error) {
	ids := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		rec, err := ReadFile(path)
		if err != nil {
			return ids, err
		}
		id, err := s.Insert(ctx, rec)
		if err != nil {
			return ids, fmt.Errorf("storing %s: %w", path, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReadDir imports every .json file below dir. depth limits the directory
// levels read: 1 reads dir only, 2 also its subdirectories, and 0 or less
// reads all levels.
func ReadDir(ctx context.Context, s Storage, dir string, depth int) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if depth > 0 && path != dir && level(dir, path) >= depth {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("importing measurements", "dir", dir, "files", len(paths))
	return ReadFiles(ctx, s, paths)
}

// level is the number of path elements of path below root.
func level(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

const dumpLevel = 4

type dumpEntry struct {
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

// Dump writes every record of s to path, zstd-compressed unless compress
// is false.
func Dump(ctx context.Context, s Storage, path string, compress bool) error {
	c, err := NewCompressor(dumpLevel)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := s.All(ctx)
	if err != nil {
		return err
	}
	out := make([]dumpEntry, len(entries))
	for i, e := range entries {
		data, err := c.encodeRecord(e.Record)
		if err != nil {
			return fmt.Errorf("record %s: %w", e.ID, err)
		}
		out[i] = dumpEntry{ID: e.ID, Record: data}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if compress {
		data = c.Compress(data)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load adds the records of a dump written by Dump to s, keeping their ids.
// Compressed and plain dumps are told apart by content.
func Load(ctx context.Context, s Storage, path string) (int, error) {
	c, err := NewCompressor(dumpLevel)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if isCompressed(data) {
		if data, err = c.Decompress(data); err != nil {
			return 0, err
		}
	}
	var entries []dumpEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	for i, e := range entries {
		rec, err := c.decodeRecord(e.Record)
		if err != nil {
			return i, fmt.Errorf("record %s: %w", e.ID, err)
		}
		if err := s.Put(ctx, e.ID, rec); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}
