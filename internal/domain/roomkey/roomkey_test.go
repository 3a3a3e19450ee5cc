package roomkey

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildersRoundTrip(t *testing.T) {
	id := uuid.New()

	for _, tc := range []struct {
		key  Key
		kind Kind
	}{
		{Group(id), KindGroup},
		{Chat(id), KindChat},
		{Voice(id), KindVoice},
	} {
		p, err := Parse(tc.key.String())
		require.NoError(t, err)
		assert.Equal(t, tc.kind, p.Kind)

		scope, err := p.ScopeID()
		require.NoError(t, err)
		assert.Equal(t, id, scope)
	}
}

func TestParseSubscope(t *testing.T) {
	p, err := Parse("chat:5:thread")
	require.NoError(t, err)

	assert.Equal(t, KindChat, p.Kind)
	assert.Equal(t, "5", p.Scope)
	assert.Equal(t, "thread", p.Subscope)

	_, err = p.ScopeID()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "chat", "chat:", ":5", "dm:5", "chat:5:x:y", "voice::x"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}
