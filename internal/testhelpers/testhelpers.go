// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}

// RandBytes returns n pseudo-random bytes; the same n always gives the same
// bytes.
func RandBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b) // nolint: errcheck
	return b
}
