package webhook

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidehq/tide/config"
)

const testBody = `{"version":1,"timestamp":"2024-01-01T00:00:00Z","type":"test","tailnet":"example.com","message":"Test message","data":{}}`

func headerWith(name, value string) http.Header {
	headers := http.Header{}
	headers.Set(name, value)
	return headers
}

func TestHmacSourceVerify(t *testing.T) {
	source := NewHmacSource(config.WebhookSourceConfig{
		Name:            "tailscale",
		Secret:          "test_secret_key",
		SignatureHeader: "X-Tailscale-Signature",
	})

	t.Run("valid signature verifies", func(t *testing.T) {
		headers := headerWith("X-Tailscale-Signature", sign("test_secret_key", []byte(testBody)))
		require.True(t, source.Verify([]byte(testBody), headers))
	})

	t.Run("invalid signature fails", func(t *testing.T) {
		headers := headerWith("X-Tailscale-Signature", "0000000000000000000000000000000000000000000000000000000000000000")
		require.False(t, source.Verify([]byte(testBody), headers))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		headers := headerWith("X-Tailscale-Signature", sign("wrong_secret_key", []byte(testBody)))
		require.False(t, source.Verify([]byte(testBody), headers))
	})

	t.Run("tampered body fails", func(t *testing.T) {
		headers := headerWith("X-Tailscale-Signature", sign("test_secret_key", []byte(testBody)))
		tampered := []byte(`{"message":"Tampered message"}`)
		require.False(t, source.Verify(tampered, headers))
	})

	t.Run("invalid hex fails", func(t *testing.T) {
		headers := headerWith("X-Tailscale-Signature", "not_a_valid_hex_string")
		require.False(t, source.Verify([]byte(testBody), headers))
	})

	t.Run("missing header fails", func(t *testing.T) {
		require.False(t, source.Verify([]byte(testBody), http.Header{}))
	})

	t.Run("empty body with valid signature verifies", func(t *testing.T) {
		headers := headerWith("X-Tailscale-Signature", sign("test_secret_key", nil))
		require.True(t, source.Verify(nil, headers))
	})

	t.Run("github style prefix is accepted", func(t *testing.T) {
		headers := headerWith("X-Tailscale-Signature", "sha256="+sign("test_secret_key", []byte(testBody)))
		require.True(t, source.Verify([]byte(testBody), headers))
	})

	t.Run("header lookup is case insensitive", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("x-tailscale-signature", sign("test_secret_key", []byte(testBody)))
		require.True(t, source.Verify([]byte(testBody), headers))
	})

	t.Run("no secret skips verification", func(t *testing.T) {
		open := NewHmacSource(config.WebhookSourceConfig{Name: "open"})
		require.True(t, open.Verify([]byte(testBody), http.Header{}))
	})
}

func TestHmacSourceDeliveryID(t *testing.T) {
	source := NewHmacSource(config.WebhookSourceConfig{
		Name:             "tailscale",
		DeliveryIdHeader: "X-Delivery-Id",
	})

	t.Run("header id wins", func(t *testing.T) {
		headers := headerWith("X-Delivery-Id", "abc-123")
		require.Equal(t, "tailscale:abc-123", source.DeliveryID([]byte(testBody), headers))
	})

	t.Run("body hash fallback is stable", func(t *testing.T) {
		first := source.DeliveryID([]byte(testBody), http.Header{})
		second := source.DeliveryID([]byte(testBody), http.Header{})
		require.Equal(t, first, second)
		require.NotEqual(t, first, source.DeliveryID([]byte(`other`), http.Header{}))
	})
}

func TestHmacSourceMapToTrigger(t *testing.T) {
	source := NewHmacSource(config.WebhookSourceConfig{
		Name:          "tailscale",
		EventTypePath: "$.type",
		ItemIdPath:    "$.data.node",
		Triggers: map[string]string{
			"nodeKeyExpired": "tailscale-alerts",
		},
	})

	t.Run("mapped event yields trigger", func(t *testing.T) {
		body := []byte(`{"type":"nodeKeyExpired","data":{"node":"laptop"}}`)
		trigger, err := source.MapToTrigger(body, http.Header{})
		require.NoError(t, err)
		require.NotNil(t, trigger)
		require.Equal(t, "tailscale-alerts", trigger.WorkflowName)
		require.Equal(t, "laptop", trigger.Item.Id)
		require.Equal(t, "nodeKeyExpired", trigger.Item.Payload["event"])
	})

	t.Run("unmapped event yields none", func(t *testing.T) {
		body := []byte(`{"type":"policyUpdate"}`)
		trigger, err := source.MapToTrigger(body, http.Header{})
		require.NoError(t, err)
		require.Nil(t, trigger)
	})

	t.Run("missing item id falls back to body hash", func(t *testing.T) {
		body := []byte(`{"type":"nodeKeyExpired","data":{}}`)
		trigger, err := source.MapToTrigger(body, http.Header{})
		require.NoError(t, err)
		require.NotNil(t, trigger)
		require.NotEmpty(t, trigger.Item.Id)
	})

	t.Run("malformed payload errors", func(t *testing.T) {
		_, err := source.MapToTrigger([]byte(`{broken`), http.Header{})
		require.Error(t, err)
	})
}
