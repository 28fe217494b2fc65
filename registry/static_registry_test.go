package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry()

	_, err := reg.Discover("workspace-agent")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, reg.Register("workspace-agent", Instance{Addr: "127.0.0.1:8001", Weight: 10}, 10))
	require.NoError(t, reg.Register("workspace-agent", Instance{Addr: "127.0.0.1:8002", Weight: 5}, 10))
	require.NoError(t, reg.Register("workspace-agent", Instance{Addr: "127.0.0.1:8001", Weight: 20}, 10))

	instances, err := reg.Discover("workspace-agent")
	require.NoError(t, err)
	assert.Equal(t, []Instance{{Addr: "127.0.0.1:8001", Weight: 20}, {Addr: "127.0.0.1:8002", Weight: 5}}, instances)

	instances[0].Addr = "mutated"
	again, _ := reg.Discover("workspace-agent")
	assert.Equal(t, "127.0.0.1:8001", again[0].Addr, "Discover must return a copy")

	require.NoError(t, reg.Deregister("workspace-agent", "127.0.0.1:8001"))
	instances, err = reg.Discover("workspace-agent")
	require.NoError(t, err)
	assert.Equal(t, []Instance{{Addr: "127.0.0.1:8002", Weight: 5}}, instances)

	require.NoError(t, reg.Deregister("workspace-agent", "127.0.0.1:8002"))
	_, err = reg.Discover("workspace-agent")
	assert.ErrorIs(t, err, ErrNotFound)
}
