package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/sheet-ledger/internal/domain"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpAppend Op = "append"
	OpList   Op = "list"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// FaultFunc is consulted before every Memory operation. call counts the
// operations of that kind so far, starting at 1. A non-nil error fails the call.
type FaultFunc func(op Op, sheet string, call int) error

// Memory is an in-process Store. It backs tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	sheets map[string][]Row
	calls  map[Op]int
	fault  FaultFunc
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		sheets: make(map[string][]Row),
		calls:  make(map[Op]int),
	}
}

// SetFault installs f, replacing any previous fault function.
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Seed appends rows to sheet without counting calls or consulting the fault function.
func (m *Memory) Seed(sheet string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.sheets[sheet] = append(m.sheets[sheet], copyRow(r))
	}
}

// Rows returns a copy of every row of sheet, header included.
func (m *Memory) Rows(sheet string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.sheets[sheet])
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) enter(ctx context.Context, op Op, sheet string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.calls[op]++
	if m.fault != nil {
		return m.fault(op, sheet, m.calls[op])
	}
	return nil
}

// Append implements Store.
func (m *Memory) Append(ctx context.Context, sheet string, row Row) (domain.RowRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpAppend, sheet); err != nil {
		return domain.RowRef{}, err
	}
	m.sheets[sheet] = append(m.sheets[sheet], copyRow(row))
	return domain.RowRef{Sheet: sheet, Index: len(m.sheets[sheet])}, nil
}

// ListAll implements Store.
func (m *Memory) ListAll(ctx context.Context, sheet string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpList, sheet); err != nil {
		return nil, err
	}
	return copyRows(m.sheets[sheet]), nil
}

// UpdateByIndex implements Store.
func (m *Memory) UpdateByIndex(ctx context.Context, sheet string, index int, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpUpdate, sheet); err != nil {
		return err
	}
	rows := m.sheets[sheet]
	if index < 1 || index > len(rows) {
		return fmt.Errorf("row %d of %s: %w", index, sheet, domain.ErrEntryNotFound)
	}
	rows[index-1] = copyRow(row)
	return nil
}

// DeleteByIndex implements Store.
func (m *Memory) DeleteByIndex(ctx context.Context, sheet string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpDelete, sheet); err != nil {
		return err
	}
	rows := m.sheets[sheet]
	if index < 1 || index > len(rows) {
		return fmt.Errorf("row %d of %s: %w", index, sheet, domain.ErrEntryNotFound)
	}
	m.sheets[sheet] = append(rows[:index-1], rows[index:]...)
	return nil
}

func copyRow(r Row) Row {
	return append(Row(nil), r...)
}

func copyRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out
}

var _ Store = (*Memory)(nil)
