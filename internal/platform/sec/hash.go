// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor (2^12 rounds).
const PasswordCost = 12

// # Password Hashing

// ErrPasswordTooLong is returned by [PasswordHasher.Hash] for input bcrypt cannot hash.
var ErrPasswordTooLong = errors.New("sec: password exceeds 72 bytes")

// PasswordHasher hashes and compares passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher using cost, clamped to [PasswordCost] at minimum
// unless a lower cost is explicitly requested for tests through [bcrypt.MinCost].
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost != bcrypt.MinCost && cost < PasswordCost {
		cost = PasswordCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash hashes a plain-text password using the bcrypt algorithm.
func (hasher *PasswordHasher) Hash(plainTextPassword string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), hasher.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("sec: failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Compare reports whether plainTextPassword matches existingHash.
// bcrypt performs the comparison in constant time.
func (hasher *PasswordHasher) Compare(plainTextPassword, existingHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(existingHash), []byte(plainTextPassword))
	return err == nil
}

// # Keyed Digests

// ErrEmptySecret is returned when an HMAC keyring is built without key material.
var ErrEmptySecret = errors.New("sec: secret must not be empty")

// HMAC produces purpose-scoped keyed digests (OTP codes, CSRF tokens).
//
// The purpose string is mixed into every digest so a value minted for one
// use can never be replayed as another.
type HMAC struct {
	key []byte
}

// NewHMAC builds a keyring from the server-side session secret.
func NewHMAC(secret string) (*HMAC, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &HMAC{key: []byte(secret)}, nil
}

// Sum returns the hex encoded HMAC-SHA256 of value under purpose.
func (keyring *HMAC) Sum(purpose, value string) string {
	mac := hmac.New(sha256.New, keyring.key)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal recomputes the digest of value and compares it to digest in constant time.
func (keyring *HMAC) Equal(purpose, value, digest string) bool {
	expected := keyring.Sum(purpose, value)
	return hmac.Equal([]byte(expected), []byte(digest))
}
