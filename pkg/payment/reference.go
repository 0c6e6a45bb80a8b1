package payment

import (
	nanoid "github.com/jaevor/go-nanoid"
)

const referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewReferenceGenerator returns a generator of correlation keys. Keys are
// uppercase alphanumeric so every provider accepts them in its reference field.
func NewReferenceGenerator(length int) (func() string, error) {
	if length <= 0 {
		length = 20
	}
	return nanoid.CustomASCII(referenceAlphabet, length)
}
