// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

func testContextID(b byte) ids.ID {
	id := ids.ID{}
	id[31] = b
	return id
}

func TestCapabilityLifecycle(t *testing.T) {
	wallet, err := GenerateWallet()
	require.NoError(t, err)

	c, err := NewCapability()
	require.NoError(t, err)
	require.Equal(t, StateKeypairGenerated, c.State())

	now := time.Now()
	require.NoError(t, c.Compose([]ids.ID{testContextID(1)}, now, DefaultValidityDays))
	require.Equal(t, StateComposed, c.State())

	require.NoError(t, c.Sign(wallet))
	require.Equal(t, StateAwaitingSignature, c.State())

	red, err := c.Redemption(now)
	require.NoError(t, err)

	recovered, err := red.SignerAddress()
	require.NoError(t, err)
	require.Equal(t, wallet.Address(), recovered)

	require.True(t, red.Covers(testContextID(1)))
	require.False(t, red.Covers(testContextID(2)))

	require.NoError(t, c.Redeem())
	require.Equal(t, StateRedeemed, c.State())
}

func TestCapabilityNoBackwardTransitions(t *testing.T) {
	wallet, err := GenerateWallet()
	require.NoError(t, err)

	c, err := NewCapability()
	require.NoError(t, err)
	now := time.Now()

	// Out-of-order operations are rejected at every stage.
	require.ErrorIs(t, c.Sign(wallet), ErrCapabilityState)
	_, err = c.Redemption(now)
	require.ErrorIs(t, err, ErrCapabilityState)

	require.NoError(t, c.Compose([]ids.ID{testContextID(1)}, now, DefaultValidityDays))

	// A capability is never re-bound to a different resource set.
	require.ErrorIs(t, c.Compose([]ids.ID{testContextID(2)}, now, DefaultValidityDays), ErrCapabilityState)

	require.NoError(t, c.Sign(wallet))
	require.NoError(t, c.Redeem())

	_, err = c.Redemption(now)
	require.ErrorIs(t, err, ErrCapabilityState)
	require.ErrorIs(t, c.Redeem(), ErrCapabilityState)
}

func TestCapabilityStatementCanonical(t *testing.T) {
	c, err := NewCapability()
	require.NoError(t, err)

	now := time.Now()
	contexts := []ids.ID{testContextID(2), testContextID(1), testContextID(2)}
	require.NoError(t, c.Compose(contexts, now, DefaultValidityDays))

	first, err := c.Statement()
	require.NoError(t, err)
	second, err := c.Statement()
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Duplicates collapse and order is byte-sorted, so the verifying side
	// re-derives identical bytes regardless of how the caller listed them.
	expected := packStatement(
		c.PublicKey(),
		[]ids.ID{testContextID(1), testContextID(2)},
		uint64(now.Unix()),
		DefaultValidityDays,
	)
	require.Equal(t, expected, first)
}

func TestCapabilityDigestBindsContexts(t *testing.T) {
	a := Redemption{Contexts: []ids.ID{testContextID(1)}, IssuedAt: 1000, ValidityDays: 7}
	b := Redemption{Contexts: []ids.ID{testContextID(2)}, IssuedAt: 1000, ValidityDays: 7}
	require.NotEqual(t, a.Digest(), b.Digest())
}

func TestCapabilityExpiry(t *testing.T) {
	wallet, err := GenerateWallet()
	require.NoError(t, err)

	c, err := NewCapability()
	require.NoError(t, err)

	issuedAt := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, c.Compose([]ids.ID{testContextID(1)}, issuedAt, DefaultValidityDays))
	require.NoError(t, c.Sign(wallet))

	require.True(t, c.Expired(time.Now()))

	_, err = c.Redemption(time.Now())
	require.ErrorIs(t, err, ErrCapabilityExpired)
	require.Equal(t, StateExpired, c.State())

	// Expired is terminal: the capability must be re-issued.
	_, err = c.Redemption(issuedAt)
	require.ErrorIs(t, err, ErrCapabilityState)
}

func TestCapabilityOpensSealedPayload(t *testing.T) {
	c, err := NewCapability()
	require.NoError(t, err)

	payload := []byte("sealed for the ephemeral key")
	pub := c.PublicKey()
	sealed, err := box.SealAnonymous(nil, payload, &pub, rand.Reader)
	require.NoError(t, err)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, payload, opened)

	// A different capability's key does not open it.
	other, err := NewCapability()
	require.NoError(t, err)
	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRedemptionRejectsTamperedSignature(t *testing.T) {
	wallet, err := GenerateWallet()
	require.NoError(t, err)

	c, err := NewCapability()
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, c.Compose([]ids.ID{testContextID(1)}, now, DefaultValidityDays))
	require.NoError(t, c.Sign(wallet))

	red, err := c.Redemption(now)
	require.NoError(t, err)

	// Widening the scope after signing breaks recovery: the re-derived
	// digest no longer matches the signed statement.
	red.Contexts = append(red.Contexts, testContextID(9))
	recovered, err := red.SignerAddress()
	if err == nil {
		require.NotEqual(t, wallet.Address(), recovered)
	}
}
