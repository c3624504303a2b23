// Package sheets implements the business data tools. Each sector maps to
// one spreadsheet tab; query_business_data reads it through a short-lived
// cache and mutate_business_data changes it under a per-dataset lock.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/cache"
	"github.com/haasonsaas/tenantagent/internal/config"
	"github.com/haasonsaas/tenantagent/internal/observability"
	"github.com/haasonsaas/tenantagent/internal/sessions"
)

const (
	defaultCacheTTL   = time.Minute
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
	maxCacheEntries   = 256
)

// Options configures a Service.
type Options struct {
	Backend  Backend
	Datasets map[Sector]Dataset
	CacheTTL time.Duration
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// Now overrides the cache clock (for testing).
	Now func() time.Time
}

// Service owns the backend, the query cache and the dataset locks shared
// by the two tools.
type Service struct {
	backend  Backend
	datasets map[Sector]Dataset
	cache    *cache.TTLCache[string]
	locks    *sessions.KeyedLocker
	metrics  *observability.Metrics
	logger   *slog.Logger

	// generations counts invalidations per dataset. A query only caches
	// what it fetched if no mutation landed while it was fetching.
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewService validates opts and returns a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Backend == nil {
		return nil, errors.New("sheets backend is required")
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	datasets := make(map[Sector]Dataset, len(opts.Datasets))
	for sector, ds := range opts.Datasets {
		datasets[sector] = ds
	}
	return &Service{
		backend:  opts.Backend,
		datasets: datasets,
		cache:    cache.NewTTLCache[string](cache.TTLCacheOptions{TTL: ttl, MaxSize: maxCacheEntries, Now: opts.Now}),
		locks:    sessions.NewKeyedLocker(),
		metrics:  opts.Metrics,
		logger:   logger.With("component", "sheets"),

		generations: make(map[string]uint64),
	}, nil
}

// DatasetsFromConfig maps configured sector names to datasets.
func DatasetsFromConfig(cfg map[string]config.DatasetConfig) (map[Sector]Dataset, error) {
	datasets := make(map[Sector]Dataset, len(cfg))
	for name, ds := range cfg {
		sector, err := ParseSector(name)
		if err != nil {
			return nil, fmt.Errorf("sheets.datasets: %w", err)
		}
		datasets[sector] = Dataset{SpreadsheetID: ds.SpreadsheetID, Sheet: ds.Sheet}
	}
	return datasets, nil
}

// Tools returns query_business_data and mutate_business_data.
func (s *Service) Tools() []agent.Tool {
	return []agent.Tool{NewQueryTool(s), NewMutateTool(s)}
}

func (s *Service) dataset(toolName, rawSector string) (Sector, Dataset, *agent.ToolResult) {
	sector, err := ParseSector(rawSector)
	if err != nil {
		return "", Dataset{}, agent.InvalidInput(toolName, "%v; expected one of %s", err, strings.Join(SectorNames(), ", "))
	}
	ds, ok := s.datasets[sector]
	if !ok {
		return "", Dataset{}, agent.ErrorResult(&agent.ToolError{
			Type:     agent.ToolErrorNotFound,
			ToolName: toolName,
			Message:  fmt.Sprintf("no dataset is configured for sector %s", sector),
		})
	}
	return sector, ds, nil
}

func cacheKey(ds Dataset, sector Sector, limit int) string {
	return ds.Key() + "|" + string(sector) + "|" + strconv.Itoa(limit)
}

func (s *Service) generation(ds Dataset) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[ds.Key()]
}

// storeIfCurrent caches a query result fetched at generation gen. It reports
// false when the dataset was invalidated since.
func (s *Service) storeIfCurrent(ds Dataset, gen uint64, key, value string) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[ds.Key()] != gen {
		return false
	}
	s.cache.Set(key, value)
	return true
}

func (s *Service) invalidate(ds Dataset) {
	s.genMu.Lock()
	s.generations[ds.Key()]++
	n := s.cache.RemovePrefix(ds.Key() + "|")
	s.genMu.Unlock()
	if n > 0 {
		s.logger.Debug("query cache invalidated", "dataset", ds.Key(), "entries", n)
	}
}

// backendFailure converts a backend error into a tool failure.
func backendFailure(toolName, action string, err error) *agent.ToolResult {
	errType := agent.ToolErrorExecution
	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errType = agent.ToolErrorTimeout
	case errors.Is(err, ErrRowNotFound):
		errType = agent.ToolErrorNotFound
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusNotFound:
			errType = agent.ToolErrorNotFound
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			errType = agent.ToolErrorPermission
		case apiErr.Code == http.StatusTooManyRequests:
			errType = agent.ToolErrorRateLimit
		case apiErr.Code >= 500:
			errType = agent.ToolErrorNetwork
		}
	}
	return agent.ErrorResult(&agent.ToolError{
		Type:     errType,
		ToolName: toolName,
		Message:  fmt.Sprintf("failed to %s: %v", action, err),
		Cause:    err,
	})
}

// columnNames returns the headers with blank names replaced by column_N.
func columnNames(headers []string) []string {
	names := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		names[i] = h
	}
	return names
}

// resolveColumns maps column names to header positions case-insensitively.
// Unknown names fail with the available headers listed.
func resolveColumns(toolName string, headers []string, values map[string]any) (map[int]string, *agent.ToolResult) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[int]string, len(values))
	for _, name := range names {
		idx := -1
		for i, h := range headers {
			if strings.EqualFold(h, strings.TrimSpace(name)) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, agent.InvalidInput(toolName, "unknown column %q; available headers: %s", name, strings.Join(headers, ", "))
		}
		resolved[idx] = formatCell(values[name])
	}
	return resolved, nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
