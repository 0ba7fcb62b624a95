package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/conversia-ai/conversia/internal/errdef"
)

// Sign computes the hex HMAC-SHA256 of an inbound event body with the
// tenant's webhook secret. The gateway puts this in X-Signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound event signature in constant time.
// Failures return errdef.ErrSignatureInvalid; the caller drops the event
// with a 401.
func VerifySignature(secret, body []byte, signature string) error {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return errdef.ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return errdef.ErrSignatureInvalid
	}
	return nil
}
