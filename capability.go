// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"golang.org/x/crypto/nacl/box"
)

// DefaultValidityDays is the policy default validity window for a decryption
// capability.
const DefaultValidityDays = 7

// statementVersion is the canonical statement format version.
const statementVersion uint8 = 1

// capabilityDomain separates capability digests from any other signed
// structure, so a signature over a statement cannot be replayed against a
// different statement shape.
var capabilityDomain = crypto.Keccak256([]byte("cloak/decryption-capability/v1"))

// CapabilityState tracks the lifecycle of a decryption capability. States
// only advance; there are no backward transitions.
type CapabilityState uint8

const (
	StateKeypairGenerated CapabilityState = iota
	StateComposed
	StateAwaitingSignature
	StateRedeemed
	StateExpired
)

func (s CapabilityState) String() string {
	switch s {
	case StateKeypairGenerated:
		return "keypair-generated"
	case StateComposed:
		return "composed"
	case StateAwaitingSignature:
		return "awaiting-signature"
	case StateRedeemed:
		return "redeemed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Capability is a short-lived, scoped authorization to decrypt. It owns an
// ephemeral X25519 keypair that is generated once, never reused across
// capabilities, and whose private half never leaves this struct: backends
// seal decrypted payloads to the public key and Open recovers them.
type Capability struct {
	publicKey  [32]byte
	privateKey *[32]byte

	contexts     []ids.ID
	issuedAt     uint64
	validityDays uint64
	signature    []byte

	state CapabilityState
}

// NewCapability generates a fresh ephemeral keypair.
func NewCapability() (*Capability, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral keypair: %w", err)
	}
	return &Capability{
		publicKey:  *pub,
		privateKey: priv,
		state:      StateKeypairGenerated,
	}, nil
}

// Compose binds the capability to a set of target contexts and a validity
// window. Contexts are deduplicated and byte-sorted so that identical inputs
// always produce a byte-identical statement; the verifying side re-derives
// the same bytes independently. A capability is composed exactly once.
func (c *Capability) Compose(contexts []ids.ID, issuedAt time.Time, validityDays uint64) error {
	if c.state != StateKeypairGenerated {
		return fmt.Errorf("%w: compose from %s", ErrCapabilityState, c.state)
	}
	if len(contexts) == 0 {
		return fmt.Errorf("%w: no target contexts", ErrCapabilityState)
	}
	if validityDays == 0 {
		return fmt.Errorf("%w: zero validity", ErrCapabilityState)
	}

	canonical := canonicalContexts(contexts)
	c.contexts = canonical
	c.issuedAt = uint64(issuedAt.Unix())
	c.validityDays = validityDays
	c.state = StateComposed
	return nil
}

// Statement returns the canonical structured authorization statement.
func (c *Capability) Statement() ([]byte, error) {
	if c.state < StateComposed {
		return nil, fmt.Errorf("%w: statement before compose", ErrCapabilityState)
	}
	return packStatement(c.publicKey, c.contexts, c.issuedAt, c.validityDays), nil
}

// Digest returns the domain-separated digest of the statement, the exact
// bytes handed to the identity owner for signing.
func (c *Capability) Digest() ([32]byte, error) {
	stmt, err := c.Statement()
	if err != nil {
		return [32]byte{}, err
	}
	return statementDigest(stmt), nil
}

// Sign hands the statement digest to the identity owner and records the
// resulting signature. The capability then awaits redemption.
func (c *Capability) Sign(signer Signer) error {
	if c.state != StateComposed {
		return fmt.Errorf("%w: sign from %s", ErrCapabilityState, c.state)
	}
	digest, err := c.Digest()
	if err != nil {
		return err
	}
	sig, err := signer.SignDigest(digest)
	if err != nil {
		return fmt.Errorf("failed to sign capability statement: %w", err)
	}
	c.signature = sig
	c.state = StateAwaitingSignature
	return nil
}

// ExpiresAt returns the instant strictly after which the capability is
// expired.
func (c *Capability) ExpiresAt() time.Time {
	return time.Unix(int64(c.issuedAt), 0).Add(time.Duration(c.validityDays) * 24 * time.Hour)
}

// Expired reports whether the validity window has elapsed at now.
func (c *Capability) Expired(now time.Time) bool {
	if c.state < StateComposed {
		return false
	}
	return now.After(c.ExpiresAt())
}

// Redemption produces the redeemable record submitted to the ciphertext
// service. The local expiry check avoids a wasted round-trip, but the
// backend's own expiry rejection remains authoritative.
func (c *Capability) Redemption(now time.Time) (*Redemption, error) {
	if c.state != StateAwaitingSignature {
		return nil, fmt.Errorf("%w: redeem from %s", ErrCapabilityState, c.state)
	}
	if c.Expired(now) {
		c.state = StateExpired
		return nil, fmt.Errorf("%w: expired at %s", ErrCapabilityExpired, c.ExpiresAt())
	}
	return &Redemption{
		PublicKey:    c.publicKey,
		Contexts:     append([]ids.ID(nil), c.contexts...),
		IssuedAt:     c.issuedAt,
		ValidityDays: c.validityDays,
		Signature:    append([]byte(nil), c.signature...),
	}, nil
}

// Redeem marks the capability as successfully redeemed. Further redemption
// attempts are rejected; a new capability must be issued instead.
func (c *Capability) Redeem() error {
	if c.state != StateAwaitingSignature {
		return fmt.Errorf("%w: mark redeemed from %s", ErrCapabilityState, c.state)
	}
	c.state = StateRedeemed
	return nil
}

// Open unseals a payload the backend sealed to the ephemeral public key.
func (c *Capability) Open(sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, &c.publicKey, c.privateKey)
	if !ok {
		return nil, fmt.Errorf("%w: sealed payload does not open under capability key", ErrUnauthorized)
	}
	return out, nil
}

// PublicKey returns the ephemeral public key.
func (c *Capability) PublicKey() [32]byte { return c.publicKey }

// State returns the current lifecycle state.
func (c *Capability) State() CapabilityState { return c.state }

// Redemption is the public face of a signed capability: everything the
// verifying side needs to independently re-derive the statement, recover the
// owning identity, and check the validity window.
type Redemption struct {
	PublicKey    [32]byte
	Contexts     []ids.ID
	IssuedAt     uint64
	ValidityDays uint64
	Signature    []byte
}

// Statement re-derives the canonical statement bytes.
func (r *Redemption) Statement() []byte {
	return packStatement(r.PublicKey, canonicalContexts(r.Contexts), r.IssuedAt, r.ValidityDays)
}

// Digest returns the domain-separated statement digest.
func (r *Redemption) Digest() [32]byte {
	return statementDigest(r.Statement())
}

// SignerAddress recovers the identity that signed the statement.
func (r *Redemption) SignerAddress() (common.Address, error) {
	digest := r.Digest()
	pub, err := crypto.SigToPub(digest[:], r.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: signature does not recover: %v", ErrUnauthorized, err)
	}
	return common.PubkeyToAddress(*pub), nil
}

// Expired reports whether the validity window has elapsed at now.
func (r *Redemption) Expired(now time.Time) bool {
	expiry := time.Unix(int64(r.IssuedAt), 0).Add(time.Duration(r.ValidityDays) * 24 * time.Hour)
	return now.After(expiry)
}

// Covers reports whether contextID is within the capability's scope.
func (r *Redemption) Covers(contextID ids.ID) bool {
	for _, c := range r.Contexts {
		if c == contextID {
			return true
		}
	}
	return false
}

func canonicalContexts(contexts []ids.ID) []ids.ID {
	out := make([]ids.ID, 0, len(contexts))
	seen := make(map[ids.ID]struct{}, len(contexts))
	for _, c := range contexts {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// packStatement lays out the statement with fixed-width big-endian fields:
// version, ephemeral public key, context count, contexts, issuance seconds,
// validity days.
func packStatement(publicKey [32]byte, contexts []ids.ID, issuedAt, validityDays uint64) []byte {
	size := 1 + 32 + 4 + 32*len(contexts) + 8 + 8
	buf := make([]byte, size)
	offset := 0

	buf[offset] = statementVersion
	offset++

	copy(buf[offset:], publicKey[:])
	offset += 32

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(contexts)))
	offset += 4
	for _, c := range contexts {
		copy(buf[offset:], c[:])
		offset += 32
	}

	binary.BigEndian.PutUint64(buf[offset:], issuedAt)
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], validityDays)

	return buf
}

func statementDigest(statement []byte) [32]byte {
	var digest [32]byte
	copy(digest[:], crypto.Keccak256(capabilityDomain, crypto.Keccak256(statement)))
	return digest
}
