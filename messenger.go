// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/cloakmsg/cloak/cache"
)

// decryptCacheTTL bounds how long a batch decrypt outcome is memoized.
// Plaintext for a handle never changes; the short window exists so a handle
// that gains a grant later is not masked for long.
const decryptCacheTTL = time.Minute

// DecryptOutcome is the result of a batched decrypt. Handles the backend
// omitted are reported as still encrypted, never as empty text.
type DecryptOutcome struct {
	Plaintexts     map[ids.ID]string
	StillEncrypted set.Set[ids.ID]
}

// Messenger composes the codec, the ciphertext service, the capability
// protocol and the ledger into the two user-facing operations: send and read
// inbox. Listing is cheap and ledger-only; decryption is an explicit,
// batchable second step.
type Messenger struct {
	log          log.Logger
	service      CiphertextService
	ledger       Ledger
	signer       Signer
	contextID    ids.ID
	widthBytes   int
	validityDays uint64

	outcomes *cache.TTLCache[ids.ID, *DecryptOutcome]
	now      func() time.Time
}

// NewMessenger creates a messenger bound to one context. widthBytes is the
// deployment's payload width; validityDays of zero selects the policy
// default.
func NewMessenger(
	logger log.Logger,
	service CiphertextService,
	ledger Ledger,
	signer Signer,
	contextID ids.ID,
	widthBytes int,
	validityDays uint64,
) (*Messenger, error) {
	if !ValidWidth(widthBytes) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidWidth, widthBytes)
	}
	if validityDays == 0 {
		validityDays = DefaultValidityDays
	}
	return &Messenger{
		log:          logger,
		service:      service,
		ledger:       ledger,
		signer:       signer,
		contextID:    contextID,
		widthBytes:   widthBytes,
		validityDays: validityDays,
		outcomes:     cache.NewTTLCache[ids.ID, *DecryptOutcome](decryptCacheTTL),
		now:          time.Now,
	}, nil
}

// Send encodes and encrypts text, grants the recipient decrypt access, and
// appends the record to the ledger. No ledger mutation occurs if encoding or
// encryption fails. If append rejects the addressing, the already-minted
// handle and its grants are orphaned; minting is not transactional with
// storage.
func (m *Messenger) Send(ctx context.Context, recipient common.Address, text string) (*MessageRecord, error) {
	payload, err := Encode(text, m.widthBytes)
	if err != nil {
		return nil, err
	}

	sender := m.signer.Address()
	handle, proof, err := m.service.Encrypt(ctx, m.contextID, sender, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	m.log.Debug("minted ciphertext",
		log.Stringer("handle", handle),
		log.Int("proofLen", len(proof)),
	)

	if err := m.service.Allow(ctx, handle, sender, recipient); err != nil {
		return nil, fmt.Errorf("failed to grant recipient access: %w", err)
	}

	record, err := m.ledger.Append(ctx, sender, recipient, handle)
	if err != nil {
		m.log.Debug("append rejected, handle orphaned",
			log.Stringer("handle", handle),
			log.Err(err),
		)
		return nil, err
	}
	return record, nil
}

// FetchInbox returns the identity's inbox records with content still opaque.
func (m *Messenger) FetchInbox(ctx context.Context, identity common.Address) ([]*MessageRecord, error) {
	count, err := m.ledger.Count(ctx, identity, Inbox)
	if err != nil {
		return nil, err
	}

	records := make([]*MessageRecord, 0, count)
	for i := uint64(0); i < count; i++ {
		record, err := m.ledger.ReadAt(ctx, identity, Inbox, i)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Decrypt issues one capability scoped to the messenger's context, redeems
// it for every requested handle in a single round-trip, and decodes the
// returned payloads. One signature authorizes the whole batch. Concurrent
// identical batches share a single redemption, and a batch never mixes a
// stale capability's results with a new request.
func (m *Messenger) Decrypt(ctx context.Context, records []*MessageRecord) (*DecryptOutcome, error) {
	handles := uniqueHandles(records)
	if len(handles) == 0 {
		return &DecryptOutcome{
			Plaintexts:     map[ids.ID]string{},
			StillEncrypted: set.NewSet[ids.ID](0),
		}, nil
	}

	return m.outcomes.Get(batchKey(handles), func(ids.ID) (*DecryptOutcome, error) {
		return m.decryptBatch(ctx, handles)
	}, false)
}

func (m *Messenger) decryptBatch(ctx context.Context, handles []ids.ID) (*DecryptOutcome, error) {
	capability, err := NewCapability()
	if err != nil {
		return nil, err
	}
	if err := capability.Compose([]ids.ID{m.contextID}, m.now(), m.validityDays); err != nil {
		return nil, err
	}
	if err := capability.Sign(m.signer); err != nil {
		return nil, err
	}

	// Local check before submission to avoid a wasted round-trip; the
	// backend's expiry rejection stays authoritative.
	if capability.Expired(m.now()) {
		return nil, fmt.Errorf("%w: expired before submission", ErrCapabilityExpired)
	}

	pairs := make([]HandleContext, len(handles))
	for i, h := range handles {
		pairs[i] = HandleContext{Handle: h, Context: m.contextID}
	}

	payloads, err := m.service.Decrypt(ctx, capability, pairs)
	if err != nil {
		return nil, err
	}

	outcome := &DecryptOutcome{
		Plaintexts:     make(map[ids.ID]string, len(payloads)),
		StillEncrypted: set.NewSet[ids.ID](len(handles) - len(payloads)),
	}
	for _, h := range handles {
		payload, ok := payloads[h]
		if !ok {
			outcome.StillEncrypted.Add(h)
			continue
		}
		text, err := Decode(payload, m.widthBytes)
		if err != nil {
			return nil, err
		}
		outcome.Plaintexts[h] = text
	}

	m.log.Debug("decrypted batch",
		log.Int("requested", len(handles)),
		log.Int("decrypted", len(outcome.Plaintexts)),
	)
	return outcome, nil
}

// ContextID returns the messenger's binding context.
func (m *Messenger) ContextID() ids.ID { return m.contextID }

func uniqueHandles(records []*MessageRecord) []ids.ID {
	seen := set.NewSet[ids.ID](len(records))
	handles := make([]ids.ID, 0, len(records))
	for _, r := range records {
		if seen.Contains(r.Handle) {
			continue
		}
		seen.Add(r.Handle)
		handles = append(handles, r.Handle)
	}
	return handles
}

// batchKey derives a stable key for a handle set, independent of request
// order.
func batchKey(handles []ids.ID) ids.ID {
	sorted := append([]ids.ID(nil), handles...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	hasher := sha256.New()
	for _, h := range sorted {
		hasher.Write(h[:])
	}
	var key ids.ID
	copy(key[:], hasher.Sum(nil))
	return key
}
