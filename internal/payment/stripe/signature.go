package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

// SignatureHeader carries the timestamped webhook signatures.
const SignatureHeader = "Stripe-Signature"

// verifySignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" against HMAC-SHA256(secret, "<t>.<body>").
func verifySignature(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errorbank.SignatureInvalid("missing " + SignatureHeader + " header")
	}

	var (
		timestamp  string
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			sig, err := hex.DecodeString(value)
			if err == nil {
				signatures = append(signatures, sig)
			}
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errorbank.SignatureInvalid("malformed " + SignatureHeader + " header")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errorbank.SignatureInvalid("invalid signature timestamp", errorbank.WithCause(err))
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return errorbank.SignatureInvalid("signature timestamp outside tolerance")
		}
	}

	expected := sign(body, timestamp, secret)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return errorbank.SignatureInvalid("signature mismatch")
}

func sign(body []byte, timestamp, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHeader builds a valid header for body at ts. Used by tests and local
// tooling that replays captured events.
func SignHeader(body []byte, secret string, ts time.Time) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(sign(body, timestamp, secret))
}
