//go:build property

package nips

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSharedSecretSymmetryProperty checks ECDH(a, B) == ECDH(b, A).
func TestSharedSecretSymmetryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("shared secret is symmetric", prop.ForAll(
		func(a, b uint8) bool {
			aPriv, aPub := keyPair(a)
			bPriv, bPub := keyPair(b)
			ab, err1 := SharedSecret(aPriv, bPub)
			ba, err2 := SharedSecret(bPriv, aPub)
			return err1 == nil && err2 == nil && bytes.Equal(ab, ba)
		},
		gen.UInt8Range(1, 255),
		gen.UInt8Range(1, 255),
	))

	properties.TestingRun(t)
}

// TestCodecRoundTripProperty checks that what one side encrypts the other
// side decrypts, for both payload formats.
func TestCodecRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	aPriv, aPub := keyPair(7)
	bPriv, bPub := keyPair(9)
	alice, bob := NewCodec(aPriv), NewCodec(bPriv)

	properties.Property("nip04 round trip", prop.ForAll(
		func(msg string) bool {
			payload, err := alice.Encrypt(bPub, msg)
			if err != nil {
				return false
			}
			got, err := bob.Decrypt(aPub, payload)
			return err == nil && got == msg
		},
		gen.AnyString(),
	))

	properties.Property("nip44 round trip", prop.ForAll(
		func(msg string) bool {
			key, err := ConversationKey(aPriv, bPub)
			if err != nil {
				return false
			}
			payload, err := Nip44Encrypt(msg, key)
			if err != nil {
				return false
			}
			got, err := bob.Decrypt(aPub, payload)
			return err == nil && got == msg
		},
		gen.AnyString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) < 65536 }),
	))

	properties.TestingRun(t)
}
