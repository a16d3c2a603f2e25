package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Headers set on signed deliveries.
const (
	HeaderSignature = "X-Ambudispatch-Signature"
	HeaderTimestamp = "X-Ambudispatch-Timestamp"
	HeaderEventType = "X-Ambudispatch-Event"
	HeaderDelivery  = "X-Ambudispatch-Delivery"
)

// Sign returns lowercase hex HMAC-SHA256 over "<unix ts>.<body>".
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(secret string, ts int64, body []byte, provided string) bool {
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, ts, body))
	return hmac.Equal(want, got)
}
