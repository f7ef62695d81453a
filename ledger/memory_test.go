// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/cloakmsg/cloak"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca501")
)

func testHandle(tag string) ids.ID {
	return ids.ID(sha256.Sum256([]byte(tag)))
}

type capturingObserver struct {
	events []cloak.MessageSentEvent
}

func (o *capturingObserver) MessageSent(ev cloak.MessageSentEvent) {
	o.events = append(o.events, ev)
}

func TestMemoryAppendRejectsBadAddressing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNoOpLogger())

	_, err := m.Append(ctx, alice, common.Address{}, testHandle("h"))
	require.ErrorIs(t, err, cloak.ErrInvalidRecipient)

	_, err = m.Append(ctx, alice, alice, testHandle("h"))
	require.ErrorIs(t, err, cloak.ErrSelfMessage)

	// Rejection happens before any mutation.
	for _, identity := range []common.Address{alice, bob} {
		for _, box := range []cloak.Box{cloak.Inbox, cloak.Outbox} {
			count, err := m.Count(ctx, identity, box)
			require.NoError(t, err)
			require.Zero(t, count)
		}
	}
}

func TestMemoryAppendUpdatesBothBoxes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNoOpLogger())

	handle := testHandle("h1")
	record, err := m.Append(ctx, alice, bob, handle)
	require.NoError(t, err)
	require.Equal(t, alice, record.Sender)
	require.Equal(t, bob, record.Recipient)
	require.Equal(t, handle, record.Handle)

	inboxCount, err := m.Count(ctx, bob, cloak.Inbox)
	require.NoError(t, err)
	require.Equal(t, uint64(1), inboxCount)

	outboxCount, err := m.Count(ctx, alice, cloak.Outbox)
	require.NoError(t, err)
	require.Equal(t, uint64(1), outboxCount)

	got, err := m.ReadAt(ctx, bob, cloak.Inbox, 0)
	require.NoError(t, err)
	require.Equal(t, alice, got.Counterparty(bob))
	require.Equal(t, handle, got.Handle)

	got, err = m.ReadAt(ctx, alice, cloak.Outbox, 0)
	require.NoError(t, err)
	require.Equal(t, bob, got.Counterparty(alice))
}

func TestMemoryReadAtOutOfBounds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNoOpLogger())

	_, err := m.ReadAt(ctx, bob, cloak.Inbox, 0)
	require.ErrorIs(t, err, cloak.ErrIndexOutOfBounds)

	_, err = m.Append(ctx, alice, bob, testHandle("h1"))
	require.NoError(t, err)

	_, err = m.ReadAt(ctx, bob, cloak.Inbox, 1)
	require.ErrorIs(t, err, cloak.ErrIndexOutOfBounds)
}

func TestMemoryIndexOrderIsAppendOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNoOpLogger())

	h1 := testHandle("h1")
	h2 := testHandle("h2")

	_, err := m.Append(ctx, alice, bob, h1)
	require.NoError(t, err)
	_, err = m.Append(ctx, carol, bob, h2)
	require.NoError(t, err)

	first, err := m.ReadAt(ctx, bob, cloak.Inbox, 0)
	require.NoError(t, err)
	require.Equal(t, h1, first.Handle)

	second, err := m.ReadAt(ctx, bob, cloak.Inbox, 1)
	require.NoError(t, err)
	require.Equal(t, h2, second.Handle)
}

func TestMemoryEmitsEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNoOpLogger())

	observer := &capturingObserver{}
	m.RegisterObserver(observer)

	record, err := m.Append(ctx, alice, bob, testHandle("h1"))
	require.NoError(t, err)

	require.Len(t, observer.events, 1)
	require.Equal(t, alice, observer.events[0].From)
	require.Equal(t, bob, observer.events[0].To)
	require.Equal(t, record.Timestamp, observer.events[0].Timestamp)
}

func TestMemoryListHandlesSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNoOpLogger())

	h1 := testHandle("h1")
	_, err := m.Append(ctx, alice, bob, h1)
	require.NoError(t, err)

	snapshot, err := m.ListHandles(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, []ids.ID{h1}, snapshot)

	// Appends after the snapshot are not reflected in it.
	_, err = m.Append(ctx, carol, bob, testHandle("h2"))
	require.NoError(t, err)
	require.Equal(t, []ids.ID{h1}, snapshot)

	fresh, err := m.ListHandles(ctx, bob)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
}
