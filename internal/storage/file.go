package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps seen URLs in a text file, one "<hash> <RFC3339>" line
// per URL, sorted by hash.
type FileStore struct {
	*seenSet
	filePath string
	dirty    bool
}

// NewFileStore creates a file store. Entries older than retention are
// dropped on Load; zero keeps everything.
func NewFileStore(filePath string, retention time.Duration, opts ...Option) *FileStore {
	return &FileStore{
		seenSet:  newSeenSet(retention, opts),
		filePath: filePath,
	}
}

// Load reads the file. A missing file is an empty store; malformed lines
// are skipped.
func (fs *FileStore) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(fs.filePath)
	if errors.Is(err, os.ErrNotExist) {
		fs.reset(make(map[string]time.Time))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read seen file: %w", err)
	}

	entries := make(map[string]time.Time)
	pruned := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			slog.Warn("skipping malformed seen line", "file", fs.filePath, "line", lineNo)
			continue
		}
		at, err := time.Parse(time.RFC3339, fields[1])
		if err != nil {
			slog.Warn("skipping seen line with bad timestamp", "file", fs.filePath, "line", lineNo)
			continue
		}
		if fs.expired(at) {
			pruned++
			continue
		}
		if prev, ok := entries[fields[0]]; !ok || at.After(prev) {
			entries[fields[0]] = at
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan seen file: %w", err)
	}

	fs.reset(entries)
	fs.dirty = pruned > 0
	if pruned > 0 {
		slog.Debug("pruned expired seen urls", "count", pruned)
	}
	return nil
}

// Persist rewrites the file atomically when anything changed since Load.
func (fs *FileStore) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	added := fs.pendingEntries()
	if len(added) == 0 && !fs.dirty {
		return nil
	}

	merged := make(map[string]time.Time)
	for _, e := range fs.snapshot() {
		merged[e.hash] = e.at
	}
	for _, e := range added {
		merged[e.hash] = e.at
	}
	lines := make([]entry, 0, len(merged))
	for h, at := range merged {
		lines = append(lines, entry{hash: h, at: at})
	}
	sortEntries(lines)

	var buf bytes.Buffer
	for _, e := range lines {
		fmt.Fprintf(&buf, "%s %s\n", e.hash, e.at.UTC().Format(time.RFC3339))
	}

	if err := writeFileAtomic(fs.filePath, buf.Bytes()); err != nil {
		return err
	}
	fs.markPersisted(added)
	fs.dirty = false
	return nil
}

func (fs *FileStore) Close() error { return nil }

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
