// Package store provides an in-memory TxStore for tests and dev.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rofiuddin15/smartbin-api/bin"
	"github.com/rofiuddin15/smartbin-api/ledger"
)

// DefaultPerPage mirrors the production page size.
const DefaultPerPage = 15

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore and bin.RegistryStore. WithTx is
// simulated with a snapshot + rollback on error; the whole unit runs
// under one lock, which is the serialization the contract asks for.
type Memory struct {
	mu      sync.RWMutex
	users   map[ledger.UserID]*userRow
	entries []ledger.LedgerEntry
	audits  []ledger.PointsAudit
	bins    map[bin.ID]bin.SmartBin
}

type userRow struct {
	user    ledger.User
	version int64
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[ledger.UserID]*userRow),
		bins:  make(map[bin.ID]bin.SmartBin),
	}
}

// =============================================================================
// FIXTURES (not part of the core contracts)
// =============================================================================

// PutUser seeds or replaces a user row.
func (m *Memory) PutUser(u ledger.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = &userRow{user: u}
}

// PutBin seeds or replaces a bin.
func (m *Memory) PutBin(b bin.SmartBin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bins[b.ID] = b
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e ledger.LedgerEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) FinalizeEntry(_ context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizeEntryLocked(id, status)
}

func (m *Memory) finalizeEntryLocked(id ledger.EntryID, status ledger.EntryStatus) error {
	if !status.Terminal() {
		return ledger.ErrInvalidInput
	}
	for i := range m.entries {
		if m.entries[i].ID == id {
			if m.entries[i].Status != ledger.StatusPending {
				return ledger.ErrEntryFinalized
			}
			m.entries[i].Status = status
			return nil
		}
	}
	return ledger.ErrInternal
}

func (m *Memory) Entry(_ context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *Memory) Entries(_ context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(userID, f), nil
}

func (m *Memory) entriesLocked(userID ledger.UserID, f ledger.EntryFilter) []ledger.LedgerEntry {
	// Newest-first: walk the append order backwards.
	var matched []ledger.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.UserID != userID {
			continue
		}
		if f.Kind != nil && e.Kind != *f.Kind {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, e)
	}
	return paginate(matched, f)
}

func (m *Memory) AppendAudit(_ context.Context, a ledger.PointsAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(a)
}

func (m *Memory) appendAuditLocked(a ledger.PointsAudit) error {
	m.audits = append(m.audits, a)
	return nil
}

func (m *Memory) Audits(_ context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.PointsAudit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auditsLocked(userID, f), nil
}

func (m *Memory) auditsLocked(userID ledger.UserID, f ledger.EntryFilter) []ledger.PointsAudit {
	var matched []ledger.PointsAudit
	for i := len(m.audits) - 1; i >= 0; i-- {
		a := m.audits[i]
		if a.UserID != userID {
			continue
		}
		if f.From != nil && a.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, a)
	}
	return paginate(matched, f)
}

func paginate[T any](items []T, f ledger.EntryFilter) []T {
	perPage := f.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (m *Memory) Balance(_ context.Context, userID ledger.UserID) (ledger.Points, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(userID)
}

func (m *Memory) balanceLocked(userID ledger.UserID) (ledger.Points, int64, error) {
	row, ok := m.users[userID]
	if !ok {
		return 0, 0, ledger.ErrUserNotFound
	}
	return row.user.TotalPoints, row.version, nil
}

func (m *Memory) UpdateBalance(_ context.Context, userID ledger.UserID, expectVersion int64, points ledger.Points) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalanceLocked(userID, expectVersion, points)
}

func (m *Memory) updateBalanceLocked(userID ledger.UserID, expectVersion int64, points ledger.Points) error {
	row, ok := m.users[userID]
	if !ok {
		return ledger.ErrUserNotFound
	}
	if row.version != expectVersion {
		return ledger.ErrConcurrencyConflict
	}
	row.user.TotalPoints = points
	row.version++
	return nil
}

// =============================================================================
// DEPOSIT SOURCE STORE
// =============================================================================

func (m *Memory) DepositSource(_ context.Context, id bin.ID) (*bin.SmartBin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.depositSourceLocked(id)
}

func (m *Memory) depositSourceLocked(id bin.ID) (*bin.SmartBin, error) {
	b, ok := m.bins[id]
	if !ok {
		return nil, ledger.ErrBinNotFound
	}
	return &b, nil
}

func (m *Memory) AddBottlesCollected(_ context.Context, id bin.ID, bottles int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addBottlesLocked(id, bottles)
}

func (m *Memory) addBottlesLocked(id bin.ID, bottles int) error {
	b, ok := m.bins[id]
	if !ok {
		return ledger.ErrBinNotFound
	}
	b.TotalBottlesCollected += int64(bottles)
	m.bins[id] = b
	return nil
}

// =============================================================================
// BIN REGISTRY STORE (bin.RegistryStore)
// =============================================================================

func (m *Memory) GetBin(_ context.Context, id bin.ID) (*bin.SmartBin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bins[id]
	if !ok {
		return nil, bin.ErrNotFound
	}
	return &b, nil
}

func (m *Memory) ListBins(_ context.Context, status bin.Status) ([]bin.SmartBin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bin.SmartBin
	for _, b := range m.bins {
		if status == "" || b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) SaveBin(_ context.Context, b bin.SmartBin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bins[b.ID] = b
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn under the store lock against a snapshot-backed
// view; any error restores the snapshot.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users   map[ledger.UserID]*userRow
	entries []ledger.LedgerEntry
	audits  []ledger.PointsAudit
	bins    map[bin.ID]bin.SmartBin
}

func (m *Memory) snapshot() memorySnapshot {
	users := make(map[ledger.UserID]*userRow, len(m.users))
	for id, row := range m.users {
		cp := *row
		users[id] = &cp
	}
	bins := make(map[bin.ID]bin.SmartBin, len(m.bins))
	for id, b := range m.bins {
		bins[id] = b
	}
	return memorySnapshot{
		users:   users,
		entries: append([]ledger.LedgerEntry{}, m.entries...),
		audits:  append([]ledger.PointsAudit{}, m.audits...),
		bins:    bins,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.entries = s.entries
	m.audits = s.audits
	m.bins = s.bins
}

// txView forwards to the locked helpers; the parent lock is held for
// the duration of WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) AppendEntry(_ context.Context, e ledger.LedgerEntry) error {
	return tv.parent.appendEntryLocked(e)
}

func (tv *txView) FinalizeEntry(_ context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	return tv.parent.finalizeEntryLocked(id, status)
}

func (tv *txView) Entry(_ context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	for i := range tv.parent.entries {
		if tv.parent.entries[i].ID == id {
			e := tv.parent.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (tv *txView) Entries(_ context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	return tv.parent.entriesLocked(userID, f), nil
}

func (tv *txView) AppendAudit(_ context.Context, a ledger.PointsAudit) error {
	return tv.parent.appendAuditLocked(a)
}

func (tv *txView) Audits(_ context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.PointsAudit, error) {
	return tv.parent.auditsLocked(userID, f), nil
}

func (tv *txView) Balance(_ context.Context, userID ledger.UserID) (ledger.Points, int64, error) {
	return tv.parent.balanceLocked(userID)
}

func (tv *txView) UpdateBalance(_ context.Context, userID ledger.UserID, expectVersion int64, points ledger.Points) error {
	return tv.parent.updateBalanceLocked(userID, expectVersion, points)
}

func (tv *txView) DepositSource(_ context.Context, id bin.ID) (*bin.SmartBin, error) {
	return tv.parent.depositSourceLocked(id)
}

func (tv *txView) AddBottlesCollected(_ context.Context, id bin.ID, bottles int) error {
	return tv.parent.addBottlesLocked(id, bottles)
}
