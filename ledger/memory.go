// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger provides implementations of the append-only message
// ledger: an in-memory ledger for tests and single-process use, and a
// Redis-backed ledger for shared deployments.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/cloakmsg/cloak"
)

var _ cloak.Ledger = (*Memory)(nil)

// Memory is an in-memory ledger. Index order is append order as observed
// under the ledger's own lock; concurrent senders are ordered here, not by
// client wall-clock.
type Memory struct {
	log log.Logger

	mu        sync.RWMutex
	inboxes   map[common.Address][]cloak.MessageRecord
	outboxes  map[common.Address][]cloak.MessageRecord
	observers []cloak.LedgerObserver

	now func() time.Time
}

// NewMemory creates an empty ledger.
func NewMemory(logger log.Logger) *Memory {
	return &Memory{
		log:      logger,
		inboxes:  make(map[common.Address][]cloak.MessageRecord),
		outboxes: make(map[common.Address][]cloak.MessageRecord),
		now:      time.Now,
	}
}

// RegisterObserver subscribes o to append notifications.
func (m *Memory) RegisterObserver(o cloak.LedgerObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Append validates addressing, stores the record in both boxes, and
// notifies observers. Validation failures leave the ledger untouched.
func (m *Memory) Append(_ context.Context, sender, recipient common.Address, handle ids.ID) (*cloak.MessageRecord, error) {
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero recipient", cloak.ErrInvalidRecipient)
	}
	if recipient == sender {
		return nil, fmt.Errorf("%w: %s", cloak.ErrSelfMessage, sender)
	}

	record := cloak.MessageRecord{
		Sender:    sender,
		Recipient: recipient,
		Handle:    handle,
	}

	m.mu.Lock()
	record.Timestamp = uint64(m.now().Unix())
	m.inboxes[recipient] = append(m.inboxes[recipient], record)
	m.outboxes[sender] = append(m.outboxes[sender], record)
	observers := append([]cloak.LedgerObserver(nil), m.observers...)
	m.mu.Unlock()

	ev := cloak.MessageSentEvent{
		From:      sender,
		To:        recipient,
		Timestamp: record.Timestamp,
	}
	for _, o := range observers {
		o.MessageSent(ev)
	}

	m.log.Debug("appended record",
		log.Stringer("sender", sender),
		log.Stringer("recipient", recipient),
	)
	return &record, nil
}

// Count returns the number of records in the identity's box.
func (m *Memory) Count(_ context.Context, identity common.Address, box cloak.Box) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.box(identity, box))), nil
}

// ReadAt returns the record at index.
func (m *Memory) ReadAt(_ context.Context, identity common.Address, box cloak.Box, index uint64) (*cloak.MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.box(identity, box)
	if index >= uint64(len(records)) {
		return nil, fmt.Errorf("%w: index %d, count %d", cloak.ErrIndexOutOfBounds, index, len(records))
	}
	record := records[index]
	return &record, nil
}

// ListHandles returns a snapshot of the identity's inbox handles in
// insertion order. Appends after the snapshot are not reflected.
func (m *Memory) ListHandles(_ context.Context, identity common.Address) ([]ids.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.inboxes[identity]
	handles := make([]ids.ID, len(records))
	for i, r := range records {
		handles[i] = r.Handle
	}
	return handles, nil
}

// box must be called with the lock held.
func (m *Memory) box(identity common.Address, box cloak.Box) []cloak.MessageRecord {
	if box == cloak.Inbox {
		return m.inboxes[identity]
	}
	return m.outboxes[identity]
}
