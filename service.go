// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
)

// HandleContext pairs a ciphertext handle with the context it was bound to
// at creation. A handle is meaningless outside its minting context.
type HandleContext struct {
	Handle  ids.ID
	Context ids.ID
}

// CiphertextService is the opaque boundary to the encryption backend. The
// backend's internal cryptography (key material, proof generation) is an
// external collaborator; only this contract is relied on.
type CiphertextService interface {
	// Encrypt turns a plaintext payload into a ciphertext handle plus a
	// non-interactive proof, bound to contextID, with an initial decrypt
	// grant for owner. Handles are not deterministic: the same payload and
	// context may yield different handles due to internal randomness.
	// Returns ErrBackendUnavailable when the proof-generation dependency is
	// unreachable; that condition is retryable.
	Encrypt(ctx context.Context, contextID ids.ID, owner common.Address, payload *uint256.Int) (ids.ID, []byte, error)

	// Allow grants grantee decrypt access to handle. Only the party that
	// minted the handle may mutate its grants. Grants are permanent for the
	// life of the handle.
	Allow(ctx context.Context, handle ids.ID, caller, grantee common.Address) error

	// Decrypt redeems cap against the requested handle/context pairs and
	// returns plaintext payloads keyed by handle. The mapping may be
	// partial: a missing handle means "not decryptable under this
	// capability", never zero content. Returns ErrUnauthorized when the
	// capability's owning identity holds no grant for any requested handle,
	// ErrCapabilityExpired past the validity window, and
	// ErrBackendUnavailable on transport failure. The three are never
	// conflated.
	Decrypt(ctx context.Context, cap *Capability, pairs []HandleContext) (map[ids.ID]*uint256.Int, error)
}
