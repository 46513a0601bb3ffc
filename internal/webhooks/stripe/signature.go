package stripewebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
)

// SignatureHeader is the HTTP header carrying the processor's signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds how stale a signed timestamp may be. Replays older
// than this are rejected even with a valid signature.
const DefaultTolerance = 5 * time.Minute

// VerifySignature checks the Stripe-Signature header against the raw payload.
// The header carries a unix timestamp and one or more v1 HMAC-SHA256 digests
// of "<timestamp>.<payload>"; any matching digest within the tolerance window
// passes.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "signature header missing")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	var timestamp int64
	var digests []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "malformed signature timestamp")
			}
			timestamp = parsed
		case "v1":
			digests = append(digests, value)
		}
	}
	if timestamp == 0 || len(digests) == 0 {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "malformed signature header")
	}

	signedAt := time.Unix(timestamp, 0)
	drift := now.Sub(signedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, digest := range digests {
		decoded, err := hex.DecodeString(digest)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "signature mismatch")
}

// ComputeSignatureHeader builds a header the verifier accepts. Used by tests
// and local tooling.
func ComputeSignatureHeader(payload []byte, secret string, signedAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", signedAt.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", signedAt.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
