// Package id generates unique identifiers for envelopes, requests, and
// recovery records.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 48-character alphanumeric nanoid.
func Generate() string {
	v, err := gonanoid.Generate(alphabet, 48)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return v
}
