package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// SignPayload builds a Stripe-Signature header for payload signed with secret at ts.
func SignPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// EventPayload renders a processor event wrapping object, the way it arrives on the wire.
func EventPayload(t *testing.T, id, eventType string, object interface{}) []byte {
	t.Helper()
	return EventPayloadWithPrevious(t, id, eventType, object, nil)
}

// EventPayloadWithPrevious also sets data.previous_attributes.
func EventPayloadWithPrevious(t *testing.T, id, eventType string, object interface{}, previous map[string]interface{}) []byte {
	t.Helper()

	data := map[string]interface{}{"object": object}
	if previous != nil {
		data["previous_attributes"] = previous
	}
	raw, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"livemode":    false,
		"type":        eventType,
		"data":        data,
	})
	require.NoError(t, err)
	return raw
}
