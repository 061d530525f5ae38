package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarantineRecord_JSONIsLossless(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"valid json":   `{"order_id":null, "note":"café <b>"}`,
		"invalid utf8": "{\"order_id\":null,\"note\":\"caf\xe9\"}",
		"not json":     "\x00\xff garbage",
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rec := QuarantineRecord{Stream: StreamOrders, Reason: "parse_error", ArrivedAt: at, Marker: "M", Payload: payload}
			data, err := json.Marshal(rec)
			require.NoError(t, err)

			var back QuarantineRecord
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, rec, back)
			assert.Equal(t, []byte(payload), []byte(back.Payload))
		})
	}
}

func TestQuarantineRecord_EncodingTag(t *testing.T) {
	data, err := json.Marshal(QuarantineRecord{Stream: StreamOrders, Payload: `{"a":1}`})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "payload_encoding")

	data, err = json.Marshal(&QuarantineRecord{Stream: StreamOrders, Payload: "caf\xe9"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload_encoding":"base64"`)
	assert.Contains(t, string(data), `"payload":"Y2Fm6Q=="`)

	var rec QuarantineRecord
	assert.Error(t, json.Unmarshal([]byte(`{"payload":"x","payload_encoding":"rot13"}`), &rec))
}
