// README: Human-facing references and confirmation codes.
package types

import (
	"crypto/rand"
	"math/big"
)

const (
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceLength   = 8
	codeLength        = 6

	OrderReferencePrefix    = "ORD"
	DeliveryReferencePrefix = "DEL"
)

// NewReference returns prefix-XXXXXXXX with 8 uppercase alphanumerics.
func NewReference(prefix string) string {
	return prefix + "-" + randomString(referenceAlphabet, referenceLength)
}

// NewConfirmationCode returns a 6 digit code handed to the customer.
func NewConfirmationCode() string {
	return randomString("0123456789", codeLength)
}

func randomString(alphabet string, n int) string {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = alphabet[v.Int64()]
	}
	return string(out)
}
