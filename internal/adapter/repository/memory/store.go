// Package memory provides an in-process implementation of every repository
// contract. It backs STORE_DRIVER=memory and stateful tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

const usageRetention = 31 * 24 * time.Hour

// Store is a goroutine-safe in-memory store
type Store struct {
	mu sync.RWMutex

	occurrences map[string]map[string]entity.RawOccurrence // indicator key -> source -> occurrence
	working     map[string]*entity.WorkingRecord
	validated   map[string]entity.ValidatedIndicator
	checks      map[string]entity.VendorCheck // vendor|indicator key
	windows     map[string]entity.QuotaWindow
	usage       map[string][]time.Time
	whitelist   []entity.WhitelistEntry
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		occurrences: make(map[string]map[string]entity.RawOccurrence),
		working:     make(map[string]*entity.WorkingRecord),
		validated:   make(map[string]entity.ValidatedIndicator),
		checks:      make(map[string]entity.VendorCheck),
		windows:     make(map[string]entity.QuotaWindow),
		usage:       make(map[string][]time.Time),
	}
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ==================== Raw occurrences / candidates ====================

// AddOccurrence records one feed's report of an indicator
func (s *Store) AddOccurrence(occ entity.RawOccurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := occ.Indicator.Key()
	bySource, ok := s.occurrences[key]
	if !ok {
		bySource = make(map[string]entity.RawOccurrence)
		s.occurrences[key] = bySource
	}
	bySource[occ.Source] = occ
}

// FetchCandidates aggregates active occurrences by indicator, most recently seen first.
// When validatedBefore is set, indicators validated after it are skipped.
func (s *Store) FetchCandidates(ctx context.Context, limit int, validatedBefore *time.Time) ([]entity.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]entity.Candidate, 0, len(s.occurrences))
	for key, bySource := range s.occurrences {
		var c entity.Candidate
		for _, occ := range bySource {
			if occ.RemovedAt != nil {
				continue
			}
			if c.SourceCount == 0 {
				c.Indicator = occ.Indicator
				c.FirstSeen = occ.FirstSeen
				c.LastSeen = occ.LastSeen
			}
			c.SourceCount++
			if occ.FirstSeen.Before(c.FirstSeen) {
				c.FirstSeen = occ.FirstSeen
			}
			if occ.LastSeen.After(c.LastSeen) {
				c.LastSeen = occ.LastSeen
			}
		}
		if c.SourceCount == 0 {
			continue
		}

		if rec, ok := s.working[key]; ok && !rec.LastValidated.IsZero() {
			if validatedBefore != nil && rec.LastValidated.After(*validatedBefore) {
				continue
			}
			lv := rec.LastValidated
			c.LastValidated = &lv
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].LastSeen.Equal(candidates[j].LastSeen) {
			return candidates[i].Indicator.Key() < candidates[j].Indicator.Key()
		}
		return candidates[i].LastSeen.After(candidates[j].LastSeen)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ==================== Working records ====================

// GetWorkingRecord returns a copy of the record or entity.ErrNotFound
func (s *Store) GetWorkingRecord(ctx context.Context, ind entity.Indicator) (*entity.WorkingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.working[ind.Key()]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// SaveWorkingRecord upserts the record keyed by its indicator
func (s *Store) SaveWorkingRecord(ctx context.Context, rec *entity.WorkingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.working[rec.Indicator.Key()] = cloneRecord(rec)
	return nil
}

func cloneRecord(rec *entity.WorkingRecord) *entity.WorkingRecord {
	cp := *rec
	cp.Results = make(map[string]entity.VendorResult, len(rec.Results))
	for k, v := range rec.Results {
		cp.Results[k] = v
	}
	if rec.Confidence != nil {
		c := *rec.Confidence
		cp.Confidence = &c
	}
	return &cp
}

// ==================== Validated set ====================

// UpsertValidated inserts or replaces the validated row of an indicator
func (s *Store) UpsertValidated(ctx context.Context, v entity.ValidatedIndicator) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.validated[v.Indicator.Key()] = v
	return nil
}

// DeleteValidated removes the validated row and reports whether one existed
func (s *Store) DeleteValidated(ctx context.Context, ind entity.Indicator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.validated[ind.Key()]
	delete(s.validated, ind.Key())
	return ok, nil
}

// GetValidated returns the validated row or entity.ErrNotFound
func (s *Store) GetValidated(ctx context.Context, ind entity.Indicator) (*entity.ValidatedIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.validated[ind.Key()]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &v, nil
}

// ListValidated returns every validated row ordered by indicator
func (s *Store) ListValidated(ctx context.Context) ([]entity.ValidatedIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.ValidatedIndicator, 0, len(s.validated))
	for _, v := range s.validated {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Indicator.Key() < out[j].Indicator.Key()
	})
	return out, nil
}

// ==================== Vendor checks ====================

func checkKey(vendor string, ind entity.Indicator) string {
	return vendor + "|" + ind.Key()
}

// GetVendorCheck returns the stored check or entity.ErrNotFound
func (s *Store) GetVendorCheck(ctx context.Context, vendor string, ind entity.Indicator) (*entity.VendorCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.checks[checkKey(vendor, ind)]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &c, nil
}

// SaveVendorCheck upserts a check keyed by (vendor, indicator)
func (s *Store) SaveVendorCheck(ctx context.Context, check *entity.VendorCheck) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.checks[checkKey(check.Vendor, check.Indicator)] = *check
	return nil
}

// ==================== Quota ====================

// GetWindow returns the stored window or entity.ErrNotFound
func (s *Store) GetWindow(ctx context.Context, validator string) (*entity.QuotaWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[validator]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &w, nil
}

// SaveWindow upserts the window of a validator
func (s *Store) SaveWindow(ctx context.Context, window *entity.QuotaWindow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows[window.Validator] = *window
	return nil
}

// UsageSince counts calls recorded at or after since
func (s *Store) UsageSince(ctx context.Context, validator string, since time.Time) (entity.UsageWindow, error) {
	if err := ctx.Err(); err != nil {
		return entity.UsageWindow{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var w entity.UsageWindow
	for _, at := range s.usage[validator] {
		if at.Before(since) {
			continue
		}
		if w.Count == 0 || at.Before(w.Oldest) {
			w.Oldest = at
		}
		w.Count++
	}
	return w, nil
}

// RecordUsage appends a call to the usage log
func (s *Store) RecordUsage(ctx context.Context, validator string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Nothing older than the monthly window is ever queried
	cutoff := at.Add(-usageRetention)
	kept := s.usage[validator][:0]
	for _, t := range s.usage[validator] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	s.usage[validator] = append(kept, at)
	return nil
}

// ==================== Whitelist ====================

// SetWhitelist replaces the stored whitelist entries
func (s *Store) SetWhitelist(entries []entity.WhitelistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.whitelist = append([]entity.WhitelistEntry(nil), entries...)
}

// UpsertWhitelistEntries adds entries, replacing any with the same list and domain
func (s *Store) UpsertWhitelistEntries(ctx context.Context, entries []entity.WhitelistEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]int, len(s.whitelist))
	for i, e := range s.whitelist {
		index[e.ListSource+"|"+e.Domain] = i
	}
	for _, e := range entries {
		key := e.ListSource + "|" + e.Domain
		if i, ok := index[key]; ok {
			s.whitelist[i] = e
			continue
		}
		index[key] = len(s.whitelist)
		s.whitelist = append(s.whitelist, e)
	}
	return nil
}

// ListWhitelistEntries returns every stored whitelist entry
func (s *Store) ListWhitelistEntries(ctx context.Context) ([]entity.WhitelistEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entity.WhitelistEntry(nil), s.whitelist...), nil
}
