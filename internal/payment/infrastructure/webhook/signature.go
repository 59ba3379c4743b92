package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tolerance bounds the age of a signed payload. Replays of captured
// requests older than this are rejected even with a valid signature.
const Tolerance = 5 * time.Minute

var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrTimestampTooOld    = errors.New("signature timestamp outside tolerance")
)

// VerifySignature checks a "t=<unix>,v1=<hex>" header against the raw
// body, where the hex digest is HMAC-SHA256 of "<t>.<body>" under the
// shared secret. Comparison is constant time.
func VerifySignature(header string, body []byte, secret string, now time.Time) error {
	ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > Tolerance || age < -Tolerance {
		return ErrTimestampTooOld
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrMalformedSignature
	}
	if !hmac.Equal(expected, got) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign renders the signature header for a body at the given time. Used
// by callers that emulate the provider, mainly in tests and tooling.
func Sign(body []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func parseHeader(header string) (int64, string, error) {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, "", ErrMalformedSignature
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", ErrMalformedSignature
			}
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", ErrMalformedSignature
	}
	return ts, sig, nil
}
