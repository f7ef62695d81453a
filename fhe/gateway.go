// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe provides an in-process implementation of the ciphertext
// service boundary: an encrypt/decrypt gateway fronting a relay that owns
// key material, the handle store and the access-control list. Real
// deployments substitute a remote coprocessor and proof relay behind the
// same contract; nothing outside this package depends on how ciphertexts
// are actually represented.
package fhe

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"golang.org/x/crypto/nacl/box"

	"github.com/cloakmsg/cloak"
)

var _ cloak.CiphertextService = (*Gateway)(nil)

type entry struct {
	payload *uint256.Int
	context ids.ID
	minter  common.Address
}

// Gateway implements cloak.CiphertextService against an in-process relay.
// It is constructed explicitly and injected; the attestation key is
// initialized lazily on first use and Reset returns the gateway to its
// pristine state for tests.
type Gateway struct {
	log log.Logger

	mu        sync.RWMutex
	attestKey *bls.SecretKey
	attestPub *bls.PublicKey
	entries   map[ids.ID]*entry
	grants    map[ids.ID]set.Set[common.Address]

	unavailable bool
	now         func() time.Time
}

// NewGateway creates an empty gateway.
func NewGateway(logger log.Logger) *Gateway {
	return &Gateway{
		log:     logger,
		entries: make(map[ids.ID]*entry),
		grants:  make(map[ids.ID]set.Set[common.Address]),
		now:     time.Now,
	}
}

// SetUnavailable simulates the proof-generation dependency being
// unreachable. Intended for tests exercising retry paths.
func (g *Gateway) SetUnavailable(unavailable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unavailable = unavailable
}

// Reset drops all ciphertexts, grants and the attestation key.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attestKey = nil
	g.attestPub = nil
	g.entries = make(map[ids.ID]*entry)
	g.grants = make(map[ids.ID]set.Set[common.Address])
	g.unavailable = false
}

// Encrypt mints a handle for payload bound to contextID, grants owner
// decrypt access, and returns an attestation proof over the handle. Handles
// include internal randomness: the same payload and context yield different
// handles on each call.
func (g *Gateway) Encrypt(
	_ context.Context,
	contextID ids.ID,
	owner common.Address,
	payload *uint256.Int,
) (ids.ID, []byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return ids.ID{}, nil, fmt.Errorf("%w: proof service unreachable", cloak.ErrBackendUnavailable)
	}
	if err := g.ensureAttestationKey(); err != nil {
		return ids.ID{}, nil, err
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return ids.ID{}, nil, fmt.Errorf("failed to draw handle nonce: %w", err)
	}

	payloadBytes := payload.Bytes32()
	hasher := sha256.New()
	hasher.Write(contextID[:])
	hasher.Write(owner[:])
	hasher.Write(payloadBytes[:])
	hasher.Write(nonce[:])
	var handle ids.ID
	copy(handle[:], hasher.Sum(nil))

	g.entries[handle] = &entry{
		payload: payload.Clone(),
		context: contextID,
		minter:  owner,
	}
	g.grants[handle] = set.Of(owner)

	sig, err := g.attestKey.Sign(handle[:])
	if err != nil {
		return ids.ID{}, nil, fmt.Errorf("failed to attest handle: %w", err)
	}

	g.log.Debug("minted handle",
		log.Stringer("handle", handle),
		log.Stringer("context", contextID),
	)
	return handle, bls.SignatureToBytes(sig), nil
}

// Allow grants grantee decrypt access to handle. Only the minter may mutate
// a handle's grants; grants are never revoked.
func (g *Gateway) Allow(_ context.Context, handle ids.ID, caller, grantee common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[handle]
	if !ok {
		return fmt.Errorf("%w: unknown handle %s", cloak.ErrUnauthorized, handle)
	}
	if e.minter != caller {
		return fmt.Errorf("%w: only the minter may grant access", cloak.ErrUnauthorized)
	}
	g.grants[handle].Add(grantee)
	return nil
}

// Decrypt redeems the capability. The relay side re-derives the statement,
// recovers the owning identity, enforces the validity window, and returns
// each authorized payload sealed to the capability's ephemeral key; the
// gateway side opens the seals and returns plaintext payloads. The mapping
// may be partial.
func (g *Gateway) Decrypt(
	_ context.Context,
	capability *cloak.Capability,
	pairs []cloak.HandleContext,
) (map[ids.ID]*uint256.Int, error) {
	g.mu.RLock()
	unavailable := g.unavailable
	g.mu.RUnlock()
	if unavailable {
		return nil, fmt.Errorf("%w: relay unreachable", cloak.ErrBackendUnavailable)
	}

	redemption, err := capability.Redemption(g.now())
	if err != nil {
		return nil, err
	}

	sealed, err := g.redeem(redemption, pairs)
	if err != nil {
		return nil, err
	}

	payloads := make(map[ids.ID]*uint256.Int, len(sealed))
	for handle, sealedPayload := range sealed {
		raw, err := capability.Open(sealedPayload)
		if err != nil {
			return nil, err
		}
		payloads[handle] = new(uint256.Int).SetBytes(raw)
	}

	if err := capability.Redeem(); err != nil {
		return nil, err
	}
	return payloads, nil
}

// redeem is the relay side of Decrypt: statement verification, grant checks
// and sealing. Handles that are unknown, bound to a different context,
// outside the capability's scope, or not granted to the recovered identity
// are omitted from the result.
func (g *Gateway) redeem(redemption *cloak.Redemption, pairs []cloak.HandleContext) (map[ids.ID][]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if redemption.Expired(g.now()) {
		return nil, fmt.Errorf("%w: rejected by relay", cloak.ErrCapabilityExpired)
	}

	identity, err := redemption.SignerAddress()
	if err != nil {
		return nil, err
	}

	sealed := make(map[ids.ID][]byte)
	for _, pair := range pairs {
		e, ok := g.entries[pair.Handle]
		if !ok || e.context != pair.Context || !redemption.Covers(pair.Context) {
			continue
		}
		if !g.grants[pair.Handle].Contains(identity) {
			continue
		}

		payloadBytes := e.payload.Bytes32()
		sealedPayload, err := box.SealAnonymous(nil, payloadBytes[:], &redemption.PublicKey, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to seal payload: %w", err)
		}
		sealed[pair.Handle] = sealedPayload
	}

	if len(sealed) == 0 {
		return nil, fmt.Errorf("%w: no grant for %s on any requested handle", cloak.ErrUnauthorized, identity)
	}
	return sealed, nil
}

// VerifyProof checks an attestation proof returned by Encrypt.
func (g *Gateway) VerifyProof(handle ids.ID, proof []byte) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.attestPub == nil {
		return false
	}
	sig, err := bls.SignatureFromBytes(proof)
	if err != nil {
		return false
	}
	return bls.Verify(g.attestPub, sig, handle[:])
}

// ensureAttestationKey lazily initializes the relay's attestation key on
// first use. Callers must hold the write lock.
func (g *Gateway) ensureAttestationKey() error {
	if g.attestKey != nil {
		return nil
	}
	sk, err := bls.NewSecretKey()
	if err != nil {
		return fmt.Errorf("failed to generate attestation key: %w", err)
	}
	g.attestKey = sk
	g.attestPub = sk.PublicKey()
	return nil
}
