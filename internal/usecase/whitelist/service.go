package whitelist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/kr1s57/feedvalidator/internal/metrics"
)

// Repository stores the allow-list entries
type Repository interface {
	ListWhitelistEntries(ctx context.Context) ([]entity.WhitelistEntry, error)
	UpsertWhitelistEntries(ctx context.Context, entries []entity.WhitelistEntry) error
}

// Service answers whitelist lookups from an immutable in-memory snapshot
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	lists    map[string]map[string]struct{}
	names    []string
	loadedAt time.Time
}

// NewService creates a whitelist filter with an empty snapshot
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		lists:  make(map[string]map[string]struct{}),
	}
}

// Reload replaces the snapshot with the store's current entries.
// On failure the previous snapshot stays in place.
func (s *Service) Reload(ctx context.Context) error {
	entries, err := s.repo.ListWhitelistEntries(ctx)
	if err != nil {
		return fmt.Errorf("list whitelist entries: %w", err)
	}

	lists := make(map[string]map[string]struct{})
	skipped := 0
	for _, e := range entries {
		domain, err := entity.NormalizeDomain(e.Domain)
		if err != nil {
			skipped++
			continue
		}
		set, ok := lists[e.ListSource]
		if !ok {
			set = make(map[string]struct{})
			lists[e.ListSource] = set
		}
		set[domain] = struct{}{}
	}

	names := make([]string, 0, len(lists))
	for name, set := range lists {
		names = append(names, name)
		metrics.WhitelistSize.WithLabelValues(name).Set(float64(len(set)))
	}
	sort.Strings(names)

	s.mu.Lock()
	s.lists = lists
	s.names = names
	s.loadedAt = s.now()
	s.mu.Unlock()

	s.logger.Info("[WHITELIST] Snapshot loaded",
		"lists", len(names),
		"entries", len(entries)-skipped,
		"skipped", skipped)

	return nil
}

// Import parses a list file, stores its entries under list and reloads the snapshot
func (s *Service) Import(ctx context.Context, list string, r io.Reader) (int, error) {
	if list == "" {
		return 0, errors.New("list name is required")
	}

	entries, skipped, err := ParseList(r, list)
	if err != nil {
		return 0, err
	}
	if err := s.repo.UpsertWhitelistEntries(ctx, entries); err != nil {
		return 0, fmt.Errorf("store %s entries: %w", list, err)
	}

	s.logger.Info("[WHITELIST] List imported",
		"list", list,
		"entries", len(entries),
		"skipped", skipped)

	return len(entries), s.Reload(ctx)
}

// IsWhitelisted reports whether a domain indicator is on any allow-list.
// IPv4 indicators never match.
func (s *Service) IsWhitelisted(ind entity.Indicator) entity.WhitelistMatch {
	if ind.Kind != entity.KindDomain {
		return entity.WhitelistMatch{}
	}

	domain, err := entity.NormalizeDomain(ind.Value)
	if err != nil {
		return entity.WhitelistMatch{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []string
	for _, name := range s.names {
		if _, ok := s.lists[name][domain]; ok {
			matched = append(matched, name)
		}
	}

	switch len(matched) {
	case 0:
		return entity.WhitelistMatch{}
	case 1:
		return entity.WhitelistMatch{Whitelisted: true, Source: matched[0]}
	default:
		return entity.WhitelistMatch{Whitelisted: true, Source: entity.WhitelistSourceBoth}
	}
}

// Stats returns entry counts per loaded list
func (s *Service) Stats() entity.WhitelistStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := entity.WhitelistStats{
		Lists:    make(map[string]int, len(s.lists)),
		LoadedAt: s.loadedAt,
	}
	for name, set := range s.lists {
		stats.Lists[name] = len(set)
		stats.Total += len(set)
	}
	return stats
}
