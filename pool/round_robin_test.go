package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testPools(roles ...RoleKey) []*Pool {
	pools := make([]*Pool, 0, len(roles))
	for _, role := range roles {
		pools = append(pools, &Pool{role: role, slots: make(chan struct{}, 1)})
	}
	return pools
}

func roles(pools []*Pool) []RoleKey {
	ret := make([]RoleKey, 0, len(pools))
	for _, p := range pools {
		ret = append(ret, p.role)
	}
	return ret
}

func TestRoundRobinOrder(t *testing.T) {
	rr := NewRoundRobinStrategy()
	pools := testPools(SlaveRole(1), SlaveRole(2), SlaveRole(3))

	expected := [][]RoleKey{
		{"SLAVE1", "SLAVE2", "SLAVE3"},
		{"SLAVE2", "SLAVE3", "SLAVE1"},
		{"SLAVE3", "SLAVE1", "SLAVE2"},
		{"SLAVE1", "SLAVE2", "SLAVE3"},
	}
	for i, exp := range expected {
		require.Equalf(t, exp, roles(rr.Order("0/SLAVE*", pools)), "unexpected order on %d call", i)
	}
}

func TestRoundRobinIndependentKeys(t *testing.T) {
	rr := NewRoundRobinStrategy()
	pools := testPools(SlaveRole(1), SlaveRole(2))

	require.Equal(t, RoleKey("SLAVE1"), rr.Order("0/SLAVE*", pools)[0].role)
	require.Equal(t, RoleKey("SLAVE1"), rr.Order("1/SLAVE*", pools)[0].role)
	require.Equal(t, RoleKey("SLAVE2"), rr.Order("0/SLAVE*", pools)[0].role)
}

func TestRoundRobinSingleCandidate(t *testing.T) {
	rr := NewRoundRobinStrategy()
	pools := testPools(Master)

	for i := 0; i < 3; i++ {
		require.Equal(t, []RoleKey{Master}, roles(rr.Order("0/*", pools)))
	}
	require.Empty(t, rr.Order("0/*", nil))
}

func TestRoundRobinDoesNotModifyCandidates(t *testing.T) {
	rr := NewRoundRobinStrategy()
	pools := testPools(SlaveRole(1), SlaveRole(2))

	rr.Order("k", pools)
	rr.Order("k", pools)
	require.Equal(t, []RoleKey{"SLAVE1", "SLAVE2"}, roles(pools))
}

func TestRandomStrategyPermutes(t *testing.T) {
	pools := testPools(SlaveRole(1), SlaveRole(2), SlaveRole(3))

	for i := 0; i < 10; i++ {
		ordered := NewRandomStrategy().Order("k", pools)
		require.ElementsMatch(t, roles(pools), roles(ordered))
	}
}

func TestOrderStrategy(t *testing.T) {
	pools := testPools(SlaveRole(2), SlaveRole(1))
	s := NewOrderStrategy()

	require.Equal(t, []RoleKey{"SLAVE2", "SLAVE1"}, roles(s.Order("k", pools)))
	require.Equal(t, []RoleKey{"SLAVE2", "SLAVE1"}, roles(s.Order("k", pools)))
}

func TestNewStrategy(t *testing.T) {
	for _, selector := range []Selector{"", RoundRobin, Random, Order} {
		s, err := NewStrategy(selector)
		require.NoError(t, err)
		require.NotNil(t, s)
	}

	_, err := NewStrategy("LEAST")
	require.Error(t, err)
}
