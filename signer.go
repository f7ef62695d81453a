// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

var _ Signer = (*Wallet)(nil)

// Signer is the identity owner's signing collaborator. Key custody and
// signing UI live outside the protocol core; the core only ever hands a
// digest across this boundary.
type Signer interface {
	// SignDigest signs a capability statement digest with a recoverable
	// signature.
	SignDigest(digest [32]byte) ([]byte, error)

	// Address returns the signing identity.
	Address() common.Address
}

// Wallet signs with a local secp256k1 key.
type Wallet struct {
	sk   *ecdsa.PrivateKey
	addr common.Address
}

// NewWallet wraps an existing private key.
func NewWallet(sk *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		sk:   sk,
		addr: common.PubkeyToAddress(sk.PublicKey),
	}
}

// GenerateWallet creates a wallet with a fresh key.
func GenerateWallet() (*Wallet, error) {
	sk, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallet key: %w", err)
	}
	return NewWallet(sk), nil
}

// SignDigest signs the digest, yielding a 65-byte recoverable signature.
func (w *Wallet) SignDigest(digest [32]byte) ([]byte, error) {
	return crypto.Sign(digest[:], w.sk)
}

// Address returns the wallet's identity.
func (w *Wallet) Address() common.Address {
	return w.addr
}
