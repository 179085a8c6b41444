package openidstore

import (
	"fmt"
	"time"

	"github.com/MrEthical07/openidstore/internal"
)

// DefaultSkew is how far a nonce timestamp may sit from the store clock, in
// either direction, before it is rejected without a write.
const DefaultSkew = 5 * time.Hour

const (
	nonceTimeLayout = "2006-01-02T15:04:05Z"
	nonceTimeLen    = len(nonceTimeLayout)
	nonceSaltLen    = 6
	nonceSaltChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// SplitNonce splits an OpenID response nonce such as
// "2005-05-15T17:11:51ZUNIQUE" into its UTC timestamp and salt.
func SplitNonce(nonce string) (time.Time, string, error) {
	if len(nonce) < nonceTimeLen {
		return time.Time{}, "", fmt.Errorf("%w: too short", ErrInvalidNonce)
	}
	ts, err := time.Parse(nonceTimeLayout, nonce[:nonceTimeLen])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidNonce, err)
	}
	return ts.UTC(), nonce[nonceTimeLen:], nil
}

// MakeNonce returns a response nonce stamped with t followed by a random salt.
func MakeNonce(t time.Time) (string, error) {
	salt, err := internal.RandomString(nonceSaltLen, nonceSaltChars)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(nonceTimeLayout) + salt, nil
}
