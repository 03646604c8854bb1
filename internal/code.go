// Package internal holds code generation helpers shared by the step-up
// engine. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

const (
	// HexCodeBytes is the raw entropy behind a chat-channel code. Encoded
	// it becomes 16 uppercase hex characters.
	HexCodeBytes = 8
	// PINDigits is the length of the numeric email code.
	PINDigits = 6
)

// NewHexCode returns a 16-character uppercase hex secret for codes delivered
// over Discord or Telegram.
func NewHexCode() (string, error) {
	var raw [HexCodeBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw[:])), nil
}

var pinModulus = func() *big.Int {
	m := big.NewInt(10)
	for i := 1; i < PINDigits; i++ {
		m.Mul(m, big.NewInt(10))
	}
	return m
}()

// NewPIN returns a left-zero-padded numeric secret for codes delivered over
// email.
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, pinModulus)
	if err != nil {
		return "", err
	}

	digits := n.String()
	if pad := PINDigits - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return digits, nil
}
