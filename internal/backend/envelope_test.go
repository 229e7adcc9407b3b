package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeOK(t *testing.T) {
	cases := map[string]bool{
		`{"status":true,"data":{}}`:          true,
		`{"status":false,"message":"nope"}`:  false,
		`{"success":false,"message":"nope"}`: false,
		`{"count":0,"results":[]}`:           true,
		`{"id":1}`:                           true,
	}
	for body, want := range cases {
		env, err := parseEnvelope([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, want, env.OK(), body)
	}
}

func TestEnvelopeMessageText(t *testing.T) {
	cases := map[string]string{
		`{"message":" Added "}`:                          "Added",
		`{"message":{"non_field_errors":["Bad cart"]}}`:  "Bad cart",
		`{"message":["first","second"]}`:                 "first",
		`{"detail":"Invalid token."}`:                    "Invalid token.",
		`{"status":false}`:                               "",
	}
	for body, want := range cases {
		env, err := parseEnvelope([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, want, env.MessageText(), body)
	}
}

func TestEnvelopeDecodeFallsBackToBody(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"id":5,"name":"x"}`))
	require.NoError(t, err)
	var out struct {
		ID   ID     `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, ID("5"), out.ID)
}

func TestEnvelopeDecodeEmpty(t *testing.T) {
	env, err := parseEnvelope(nil)
	require.NoError(t, err)
	var out map[string]any
	assert.Error(t, env.Decode(&out))
}

func TestPathFillsPlaceholders(t *testing.T) {
	assert.Equal(t, "/cart/abc/items/", Path(EndpointCartItemAdd, "abc"))
	assert.Equal(t, "/order/a%2Fb/return/", Path(EndpointOrderReturn, "a/b"))
	assert.Panics(t, func() { Path(EndpointOrderDetail) })
	assert.Panics(t, func() { Path(EndpointOrderList, "extra") })
}

func TestCatalogueCoversResourceGroups(t *testing.T) {
	groups := Groups()
	assert.Len(t, groups, 18)
	assert.Contains(t, groups, "shiprocket-tracking")
	assert.Contains(t, groups, "bankAccount")
}
