package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/neurastock/pkg/interfaces"
	"go.uber.org/zap"
)

// ErrNoData is returned when no requested instrument has bars in range.
var ErrNoData = errors.New("no data")

// BarStore persists OHLCV history per stock and timeframe. A zero start or end leaves that side
// of the range open. Loading an unknown stock returns no bars and no error.
type BarStore interface {
	LoadOHLCV(ctx context.Context, code, timeframe string, start, end time.Time) ([]interfaces.Bar, error)
	SaveOHLCV(ctx context.Context, code, timeframe string, bars []interfaces.Bar) error
	AvailableStocks(ctx context.Context, timeframe string) ([]string, error)
	DateRange(ctx context.Context, code, timeframe string) (time.Time, time.Time, error)
}

// JSONBarStore keeps one {code}_{timeframe}.json file per series and caches decoded files.
type JSONBarStore struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string][]interfaces.Bar
}

var _ BarStore = (*JSONBarStore)(nil)

func NewJSONBarStore(dir string, logger *zap.Logger) *JSONBarStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONBarStore{dir: dir, logger: logger, cache: make(map[string][]interfaces.Bar)}
}

func seriesKey(code, timeframe string) string {
	return code + "_" + timeframe
}

func (s *JSONBarStore) path(code, timeframe string) string {
	return filepath.Join(s.dir, seriesKey(code, timeframe)+".json")
}

func (s *JSONBarStore) LoadOHLCV(ctx context.Context, code, timeframe string, start, end time.Time) ([]interfaces.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.series(code, timeframe)
	if err != nil {
		return nil, err
	}
	return filterRange(all, start, end), nil
}

func (s *JSONBarStore) series(code, timeframe string) ([]interfaces.Bar, error) {
	key := seriesKey(code, timeframe)
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(s.path(code, timeframe))
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("no bar file", zap.String("stock_code", code), zap.String("timeframe", timeframe))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bars %s: %w", key, err)
	}

	var bars []interfaces.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("decode bars %s: %w", key, err)
	}
	sortBars(bars)

	s.mu.Lock()
	s.cache[key] = bars
	s.mu.Unlock()
	return bars, nil
}

// SaveOHLCV replaces the series file atomically.
func (s *JSONBarStore) SaveOHLCV(ctx context.Context, code, timeframe string, bars []interfaces.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sorted := append([]interfaces.Bar(nil), bars...)
	sortBars(sorted)
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bars: %w", err)
	}

	target := s.path(code, timeframe)
	tmp, err := os.CreateTemp(s.dir, seriesKey(code, timeframe)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write bars: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace bar file: %w", err)
	}

	s.mu.Lock()
	s.cache[seriesKey(code, timeframe)] = sorted
	s.mu.Unlock()

	s.logger.Info("saved bars",
		zap.String("stock_code", code),
		zap.String("timeframe", timeframe),
		zap.Int("bars", len(sorted)))
	return nil
}

// AvailableStocks lists stock codes with a file for timeframe, or any timeframe when empty.
func (s *JSONBarStore) AvailableStocks(ctx context.Context, timeframe string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}

	seen := make(map[string]struct{})
	var codes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		code, tf, ok := strings.Cut(stem, "_")
		if !ok || code == "" {
			continue
		}
		if timeframe != "" && tf != timeframe {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *JSONBarStore) DateRange(ctx context.Context, code, timeframe string) (time.Time, time.Time, error) {
	bars, err := s.LoadOHLCV(ctx, code, timeframe, time.Time{}, time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrNoData, seriesKey(code, timeframe))
	}
	return bars[0].Timestamp, bars[len(bars)-1].Timestamp, nil
}

// ClearCache drops every decoded series.
func (s *JSONBarStore) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string][]interfaces.Bar)
	s.mu.Unlock()
}

func sortBars(bars []interfaces.Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
}

// filterRange keeps bars with start <= timestamp <= end, returning a fresh slice.
func filterRange(bars []interfaces.Bar, start, end time.Time) []interfaces.Bar {
	out := make([]interfaces.Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
