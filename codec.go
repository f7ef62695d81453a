// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"fmt"
	"unicode/utf8"

	"github.com/holiman/uint256"
)

// Supported payload widths, in bytes. Fixed per deployment, never negotiated
// per message.
const (
	Width64  = 8
	Width256 = 32
)

// ValidWidth reports whether widthBytes is a supported deployment width.
func ValidWidth(widthBytes int) bool {
	return widthBytes == Width64 || widthBytes == Width256
}

// Encode converts text into a fixed-width numeric payload: the UTF-8 bytes
// are truncated to widthBytes (never an error for over-length input),
// left-aligned into a widthBytes buffer, zero-padded, and interpreted as a
// big-endian unsigned integer.
//
// Truncation is byte-level and may split a multi-byte rune; decoding such a
// payload fails with ErrInvalidEncoding.
func Encode(text string, widthBytes int) (*uint256.Int, error) {
	if !ValidWidth(widthBytes) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidWidth, widthBytes)
	}

	buf := make([]byte, widthBytes)
	copy(buf, text)
	return new(uint256.Int).SetBytes(buf), nil
}

// Decode renders payload as widthBytes big-endian bytes and decodes the
// prefix up to the first zero byte as UTF-8.
//
// The zero byte acts as an implicit terminator: a message that legitimately
// contains an interior zero byte is silently cut short. This is accepted
// protocol behavior, not something callers should work around here.
func Decode(payload *uint256.Int, widthBytes int) (string, error) {
	if !ValidWidth(widthBytes) {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidWidth, widthBytes)
	}
	if payload.ByteLen() > widthBytes {
		return "", fmt.Errorf("%w: payload occupies %d bytes, width is %d", ErrInvalidEncoding, payload.ByteLen(), widthBytes)
	}

	full := payload.Bytes32()
	window := full[32-widthBytes:]

	end := len(window)
	for i, b := range window {
		if b == 0 {
			end = i
			break
		}
	}

	prefix := window[:end]
	if !utf8.Valid(prefix) {
		return "", fmt.Errorf("%w: payload prefix is not valid UTF-8", ErrInvalidEncoding)
	}
	return string(prefix), nil
}
