// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const otpSecretSize = 20

// GenerateOTP returns a fresh 6-digit numeric passcode.
//
// Each code is an HOTP value computed over a throw-away random secret and
// random counter, so codes are uniformly distributed and never derivable from
// a previous one.
func GenerateOTP() (string, error) {
	secret := make([]byte, otpSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("sec: otp entropy failure: %w", err)
	}

	var counterBytes [8]byte
	if _, err := rand.Read(counterBytes[:]); err != nil {
		return "", fmt.Errorf("sec: otp entropy failure: %w", err)
	}

	code, err := hotp.GenerateCodeCustom(
		base32.StdEncoding.EncodeToString(secret),
		binary.BigEndian.Uint64(counterBytes[:]),
		hotp.ValidateOpts{
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	)
	if err != nil {
		return "", fmt.Errorf("sec: otp generation failed: %w", err)
	}

	return code, nil
}

// GenerateSecureToken creates a cryptographically secure random hex token.
func GenerateSecureToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: token entropy failure: %w", err)
	}
	return fmt.Sprintf("%x", buffer), nil
}
