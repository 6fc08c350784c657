// Package signature implements the HMAC request signing scheme used by edge
// nodes. The signing string is METHOD|PATH|TIMESTAMP|sha256(body); the
// signature is hex HMAC-SHA256 of that string under the node's secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrTimestampInvalid = errors.New("timestamp_invalid")
	ErrSignatureInvalid = errors.New("invalid_signature")
)

// Sign computes the hex signature an edge node would send for the given
// request parts.
func Sign(method, path string, timestamp int64, body []byte, secret string) string {
	bodyHash := sha256.Sum256(body)
	signingString := fmt.Sprintf("%s|%s|%d|%s", method, path, timestamp, hex.EncodeToString(bodyHash[:]))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingString))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a declared signature against the request parts and secret.
// The timestamp is validated against now within the replay window before any
// HMAC work happens; out-of-window requests are rejected cheaply.
func Verify(method, path, timestamp, declared string, body []byte, secret string, now time.Time, window time.Duration) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrTimestampInvalid
	}

	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > window {
		return ErrTimestampInvalid
	}

	expected := Sign(method, path, ts, body, secret)
	if !hmac.Equal([]byte(expected), []byte(declared)) {
		return ErrSignatureInvalid
	}
	return nil
}
