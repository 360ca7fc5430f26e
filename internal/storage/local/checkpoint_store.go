// Package local implements the checkpoint store over a CSV file on the local filesystem.
//
// The file is both the dedup source and the accumulated output artifact: one header
// row followed by one row per observation with columns entity, from_date, to_date,
// data. Loading keys checkpoints on the first three columns.
package local

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
)

// Header lists the persisted columns in order.
var Header = []string{"entity", "from_date", "to_date", "data"}

// legacyEntityColumn is accepted in place of "entity" so files written by
// earlier scrapers of the same page keep resuming.
const legacyEntityColumn = "firm"

// Config captures the parameters for the CSV checkpoint store.
type Config struct {
	// Path is the CSV file holding checkpoints and observations.
	Path string `mapstructure:"path" yaml:"path"`
}

// CheckpointStore reads and appends the checkpoint/output CSV.
type CheckpointStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// New creates a CSV checkpoint store, creating the parent directory if needed.
func New(cfg Config, logger *zap.Logger) (*CheckpointStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(cfg.Path)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat checkpoint directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("checkpoint directory %s is not a directory", dir)
	}
	return &CheckpointStore{path: cfg.Path, logger: logger}, nil
}

// Path returns the CSV location.
func (s *CheckpointStore) Path() string {
	return s.path
}

// Load returns the checkpoint keys persisted by earlier runs. A missing file
// yields an empty set. On a malformed file the keys parsed before the fault are
// returned together with the error.
func (s *CheckpointStore) Load(ctx context.Context) (map[crawler.CheckpointKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[crawler.CheckpointKey]struct{})
	// #nosec G304 -- the checkpoint path comes from operator configuration.
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return keys, nil
	}
	if err != nil {
		return keys, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			s.logger.Warn("close checkpoint file failed", zap.Error(cerr))
		}
	}()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return keys, nil
	}
	if err != nil {
		return keys, fmt.Errorf("read checkpoint header: %w", err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return keys, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return keys, fmt.Errorf("load checkpoints canceled: %w", err)
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return keys, nil
		}
		if err != nil {
			return keys, fmt.Errorf("read checkpoint row: %w", err)
		}
		if len(record) <= cols.max() {
			line, _ := reader.FieldPos(0)
			return keys, fmt.Errorf("checkpoint row at line %d has %d fields, want at least %d", line, len(record), cols.max()+1)
		}
		keys[crawler.CheckpointKey{
			Entity: crawler.Entity(record[cols.entity]),
			From:   record[cols.from],
			To:     record[cols.to],
		}] = struct{}{}
	}
}

// Append writes rows after any existing content, creating the file with a
// header when it is absent or empty.
func (s *CheckpointStore) Append(ctx context.Context, rows []crawler.Observation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- the checkpoint path comes from operator configuration.
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open checkpoint file for append: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat checkpoint file: %w", err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(Header); err != nil {
			_ = file.Close()
			return fmt.Errorf("write checkpoint header: %w", err)
		}
	}
	for _, row := range rows {
		data, err := json.Marshal(cellsOrEmpty(row.Fields))
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("marshal observation data: %w", err)
		}
		if err := writer.Write([]string{string(row.Entity), row.From, row.To, string(data)}); err != nil {
			_ = file.Close()
			return fmt.Errorf("write observation: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = file.Close()
		return fmt.Errorf("flush checkpoint writer: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}
	return nil
}

// ReadAll loads every persisted observation; used by the summary and export commands.
func (s *CheckpointStore) ReadAll() ([]crawler.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- the checkpoint path comes from operator configuration.
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer file.Close() //nolint:errcheck // read-only handle

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	cols, err := resolveColumns(records[0])
	if err != nil {
		return nil, err
	}
	out := make([]crawler.Observation, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) <= cols.max() {
			continue
		}
		obs := crawler.Observation{
			Entity: crawler.Entity(record[cols.entity]),
			From:   record[cols.from],
			To:     record[cols.to],
		}
		if cols.data >= 0 && cols.data < len(record) {
			var fields []string
			if err := json.Unmarshal([]byte(record[cols.data]), &fields); err == nil {
				obs.Fields = fields
			} else {
				obs.Fields = []string{record[cols.data]}
			}
		}
		out = append(out, obs)
	}
	return out, nil
}

type columns struct {
	entity int
	from   int
	to     int
	data   int
}

func (c columns) max() int {
	m := c.entity
	if c.from > m {
		m = c.from
	}
	if c.to > m {
		m = c.to
	}
	return m
}

func resolveColumns(header []string) (columns, error) {
	cols := columns{entity: -1, from: -1, to: -1, data: -1}
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "entity", legacyEntityColumn:
			cols.entity = i
		case "from_date":
			cols.from = i
		case "to_date":
			cols.to = i
		case "data":
			cols.data = i
		}
	}
	if cols.entity < 0 || cols.from < 0 || cols.to < 0 {
		return cols, fmt.Errorf("checkpoint header %v lacks entity/from_date/to_date columns", header)
	}
	return cols, nil
}

func cellsOrEmpty(cells []string) []string {
	if cells == nil {
		return []string{}
	}
	return cells
}
