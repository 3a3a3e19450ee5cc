package memory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/parley/internal/domain/runtime"
)

func TestRegistryFirstAndLast(t *testing.T) {
	reg := NewConnectionRegistry(4)
	userID := uuid.New()

	a := runtime.NewConnection(userID, &recordingSink{})
	b := runtime.NewConnection(userID, &recordingSink{})

	assert.True(t, reg.Register(a))
	assert.False(t, reg.Register(b))
	assert.Len(t, reg.ResolveConnections(userID), 2)

	last, ok := reg.Deregister(a.ID())
	require.True(t, ok)
	assert.False(t, last)

	last, ok = reg.Deregister(b.ID())
	require.True(t, ok)
	assert.True(t, last)

	assert.Empty(t, reg.ResolveConnections(userID))
	assert.Zero(t, reg.Count())
}

func TestRegistryDeregisterUnknown(t *testing.T) {
	reg := NewConnectionRegistry(4)

	last, ok := reg.Deregister(uuid.New())
	assert.False(t, ok)
	assert.False(t, last)
}

func TestRegistryDeregisterTwice(t *testing.T) {
	reg := NewConnectionRegistry(4)
	c := runtime.NewConnection(uuid.New(), &recordingSink{})
	reg.Register(c)

	_, ok := reg.Deregister(c.ID())
	require.True(t, ok)

	last, ok := reg.Deregister(c.ID())
	assert.False(t, ok)
	assert.False(t, last)
}

func TestRegistryConcurrentSameUser(t *testing.T) {
	reg := NewConnectionRegistry(8)
	userID := uuid.New()

	conns := make([]*runtime.Connection, 50)
	for i := range conns {
		conns[i] = runtime.NewConnection(userID, &recordingSink{})
	}

	firsts := make(chan bool, len(conns))

	var wg conc.WaitGroup
	for _, c := range conns {
		wg.Go(func() { firsts <- reg.Register(c) })
	}
	wg.Wait()
	close(firsts)

	n := 0
	for f := range firsts {
		if f {
			n++
		}
	}
	assert.Equal(t, 1, n)

	lasts := make(chan bool, len(conns))
	for _, c := range conns {
		wg.Go(func() {
			last, _ := reg.Deregister(c.ID())
			lasts <- last
		})
	}
	wg.Wait()
	close(lasts)

	n = 0
	for l := range lasts {
		if l {
			n++
		}
	}
	assert.Equal(t, 1, n)
}
