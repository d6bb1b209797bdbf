package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

const tokenCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func NewID(prefix string) string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

// NewSecretToken returns the unguessable path token of an inbound webhook.
func NewSecretToken() string {
	return randomString(40)
}

func NewSecret() string {
	return fmt.Sprintf("whsec_%s", randomString(40))
}

func randomString(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(tokenCharset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		b[i] = tokenCharset[idx.Int64()]
	}
	return string(b)
}
