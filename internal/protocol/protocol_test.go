package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/kiln/internal/recipe"
)

func TestEncodeDecode(t *testing.T) {
	req := &BuildRequest{
		Recipe:    recipe.Django(recipe.DjangoOptions{}),
		Context:   ContextSource{Dir: "/src/app"},
		Platforms: []string{"linux/amd64"},
	}

	data, err := Encode(CmdBuild, req)
	require.NoError(t, err)

	env, payload, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, CmdBuild, env.Command)
	assert.Equal(t, Version, env.Version)

	got, err := DecodePayload[BuildRequest](payload)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(CmdStatus, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"command":"status"}`, string(data))

	_, payload, err := Decode(data)
	require.NoError(t, err)

	got, err := DecodePayload[CachePruneRequest](payload)
	require.NoError(t, err)
	assert.Equal(t, &CachePruneRequest{}, got)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", "build", ErrMalformed},
		{"old version", `{"version":0,"command":"build"}`, ErrVersion},
		{"no command", `{"version":1}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodePayloadMismatch(t *testing.T) {
	_, err := DecodePayload[CachePruneRequest]([]byte(`{"max_age":"soon"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDurationOnTheWire(t *testing.T) {
	data, err := Encode(CmdCachePrune, &CachePruneRequest{MaxAge: time.Hour})
	require.NoError(t, err)

	_, payload, err := Decode(data)
	require.NoError(t, err)

	got, err := DecodePayload[CachePruneRequest](payload)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got.MaxAge)
}
