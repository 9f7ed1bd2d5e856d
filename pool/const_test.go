package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealth_String(t *testing.T) {
	require.Equal(t, "healthy", Healthy.String())
	require.Equal(t, "unhealthy", Unhealthy.String())
	require.Equal(t, "unknown", Health(7).String())
}

func TestSlaveRole(t *testing.T) {
	require.Equal(t, RoleKey("SLAVE1"), SlaveRole(1))
	require.Equal(t, RoleKey("SLAVE12"), SlaveRole(12))
}

func TestRoleKey_Concrete(t *testing.T) {
	for _, role := range []RoleKey{Master, "SLAVE1", "SLAVE10"} {
		require.Truef(t, role.Concrete(), "%s should be concrete", role)
	}
	for _, role := range []RoleKey{AnySlave, AnyNode, "SLAVE0", "SLAVE01", "SLAVE", "SLAVE-1", "master", ""} {
		require.Falsef(t, role.Concrete(), "%s should not be concrete", role)
	}
}

func TestRoleKey_Matches(t *testing.T) {
	require.True(t, AnySlave.Matches("SLAVE1"))
	require.True(t, AnySlave.Matches("SLAVE23"))
	require.False(t, AnySlave.Matches(Master))
	require.True(t, AnyNode.Matches(Master))
	require.True(t, AnyNode.Matches("SLAVE2"))
	require.True(t, Master.Matches(Master))
	require.False(t, SlaveRole(1).Matches(SlaveRole(11)))
}

func TestRoleKey_IsSelector(t *testing.T) {
	require.True(t, AnySlave.IsSelector())
	require.True(t, AnyNode.IsSelector())
	require.False(t, Master.IsSelector())
	require.False(t, SlaveRole(3).IsSelector())
}
