package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/core/network"
)

func TestUpdater_SwitchVisibleAfterRefresh(t *testing.T) {
	u := New()
	n := network.New(context.Background(), u)
	require.NoError(t, n.Add(u.Grid(6000)))
	sw, err := u.Switch("boiler", 2000, false)
	require.NoError(t, err)
	require.NoError(t, n.Add(sw))

	rev := u.Revision()
	on, err := sw.SwitchOn(true)
	require.NoError(t, err)
	assert.True(t, on)
	assert.False(t, sw.IsOn(), "state lags until refresh")
	assert.Equal(t, true, u.Latest(StateEntity("boiler")))
	assert.Equal(t, false, u.Get(StateEntity("boiler")))

	require.NoError(t, n.Refresh(context.Background()))
	assert.Equal(t, rev+1, u.Revision())
	assert.True(t, sw.IsOn())
	assert.Equal(t, 2000.0, u.Get("grid_power"))
}

func TestUpdater_RefuseAndErrors(t *testing.T) {
	u := New()
	n := network.New(context.Background(), u)
	sw, err := u.Switch("pump", 500, false)
	require.NoError(t, err)
	require.NoError(t, n.Add(sw))
	u.Refuse("pump", true)
	on, err := sw.SwitchOn(true)
	require.NoError(t, err)
	assert.False(t, on)

	u.RefreshErr = errors.New("server down")
	assert.Error(t, n.Refresh(context.Background()))

	_, err = u.EntityValue("missing")
	assert.Error(t, err)

	require.NoError(t, u.Notify("hello"))
	assert.Equal(t, []string{"hello"}, u.Notifications())
}
