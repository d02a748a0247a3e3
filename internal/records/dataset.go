package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
)

// Dataset is a Source backed by a directory of <model>.json files, each
// holding a JSON array of record objects. All files are loaded up front;
// Watch re-loads individual files as they change, so datasets can be
// edited without a restart.
type Dataset struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	tables map[string][]json.RawMessage
}

// OpenDataset loads every model file under dir. A malformed file fails
// the open; serving half a dataset would silently hide records.
func OpenDataset(dir string, logger *slog.Logger) (*Dataset, error) {
	d := &Dataset{
		dir:    dir,
		logger: logger,
		tables: make(map[string][]json.RawMessage),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading dataset directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := d.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return nil, err
		}
	}

	logger.Info("dataset loaded",
		slog.String("dir", dir),
		slog.Int("models", len(d.tables)),
	)

	return d, nil
}

// modelName derives the model a file serves: everything before the .json
// suffix, so "res.partner.json" serves "res.partner".
func modelName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

// loadFile parses one model file and swaps it into the table map. Records
// are kept in id order.
func (d *Dataset) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading dataset file %s: %w", path, err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("dataset file %s is not a JSON array: %w", path, err)
	}
	for i, row := range rows {
		if !gjson.ValidBytes(row) || !gjson.ParseBytes(row).IsObject() {
			return fmt.Errorf("dataset file %s: record %d is not an object", path, i)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return gjson.GetBytes(rows[i], "id").Int() < gjson.GetBytes(rows[j], "id").Int()
	})

	d.mu.Lock()
	d.tables[modelName(path)] = rows
	d.mu.Unlock()

	return nil
}

func (d *Dataset) dropModel(path string) {
	d.mu.Lock()
	delete(d.tables, modelName(path))
	d.mu.Unlock()
}

// Search returns the model's records, optionally restricted to the date
// range. The returned slice is a snapshot; later reloads do not mutate it.
func (d *Dataset) Search(ctx context.Context, model string, filter *DateRange) ([]json.RawMessage, error) {
	d.mu.RLock()
	rows := d.tables[model]
	d.mu.RUnlock()

	if filter == nil {
		return rows, nil
	}

	matched := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		value := gjson.GetBytes(row, filter.Field)
		if !value.Exists() {
			continue
		}

		t, err := time.Parse(DatetimeLayout, value.String())
		if err != nil {
			continue
		}
		if t.Before(filter.GTE) || t.After(filter.LTE) {
			continue
		}

		matched = append(matched, row)
	}

	return matched, nil
}

// Watch re-loads model files as they change on disk. It blocks until the
// context is cancelled. Rapid writes are debounced so an editor save
// triggers a single reload; a file that fails to parse keeps serving its
// previous contents.
func (d *Dataset) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.dir); err != nil {
		return fmt.Errorf("watching dataset dir: %w", err)
	}

	d.logger.Info("dataset watcher started", slog.String("dir", d.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				d.dropModel(event.Name)
				d.logger.Info("dataset model removed", slog.String("model", modelName(event.Name)))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			d.logger.Warn("dataset watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < 300*time.Millisecond {
					continue
				}
				delete(pending, path)

				if err := d.loadFile(path); err != nil {
					d.logger.Warn("dataset reload failed", slog.String("error", err.Error()))
					continue
				}
				d.logger.Info("dataset model reloaded", slog.String("model", modelName(path)))
			}
		}
	}
}
