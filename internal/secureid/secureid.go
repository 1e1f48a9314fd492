// Package secureid generates unguessable identifiers and claims them
// against a store with insert-if-absent semantics.
package secureid

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

// MaxAttempts bounds Claim. With 128-bit ids a single collision is already
// vanishingly unlikely.
const MaxAttempts = 64

// ErrExhausted is returned when every attempt collided.
var ErrExhausted = errors.New("secureid: no free identifier after max attempts")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generator produces candidate identifiers.
type Generator func() (string, error)

// New returns 128 random bits as lower-case unpadded base32 (26 chars).
func New() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(b[:])), nil
}

// Claim draws identifiers from gen until insert reports success. insert
// must atomically store the record under id only if id is free, returning
// false on collision. A nil gen uses New.
func Claim(gen Generator, insert func(id string) (bool, error)) (string, error) {
	if gen == nil {
		gen = New
	}
	for range MaxAttempts {
		id, err := gen()
		if err != nil {
			return "", err
		}
		ok, err := insert(id)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", ErrExhausted
}
