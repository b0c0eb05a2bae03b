package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearize_ConcatenatesInMemberOrder(t *testing.T) {
	a := member(t, "A", 2, 2)
	b := member(t, "B", 3)

	pc := Linearize(1, []string{"A", "B"}, resolverOf(a, b), nil)
	require.Equal(t, 3, pc.Len())

	for _, tt := range []struct {
		cluster    string
		priority   uint32
		linearized uint32
	}{
		{"A", 0, 0},
		{"A", 1, 1},
		{"B", 0, 2},
	} {
		l, ok := pc.Linearized(tt.cluster, tt.priority)
		require.True(t, ok)
		assert.Equal(t, tt.linearized, l)
	}

	assert.Same(t, a.PrioritySet().HostSet(0), pc.HostSets()[0])
	assert.Same(t, a.PrioritySet().HostSet(1), pc.HostSets()[1])
	assert.Same(t, b.PrioritySet().HostSet(0), pc.HostSets()[2])

	m, ok := pc.Member(2)
	require.True(t, ok)
	assert.Equal(t, ClusterAndPriority{Cluster: "B", Priority: 0}, m.ClusterAndPriority)
	assert.Same(t, b.LoadBalancer(), m.LoadBalancer)

	_, ok = pc.Member(3)
	assert.False(t, ok)
}

func TestLinearize_ContiguityAndOrder(t *testing.T) {
	clusters := resolverOf(
		member(t, "A", 1, 1, 1),
		member(t, "C"),
		member(t, "D", 1, 1),
		member(t, "E", 1),
	)
	// B is never resolvable and C has no priorities
	names := []string{"A", "B", "C", "D", "E"}

	pc := Linearize(1, names, clusters, nil)
	require.Equal(t, 6, pc.Len())

	var prev *ClusterAndPriority
	memberIndex := map[string]int{}
	for i, n := range names {
		memberIndex[n] = i
	}
	for l := 0; l < pc.Len(); l++ {
		m, ok := pc.Member(uint32(l))
		require.True(t, ok)
		if prev != nil {
			if prev.Cluster == m.Cluster {
				assert.Less(t, prev.Priority, m.Priority)
			} else {
				assert.Less(t, memberIndex[prev.Cluster], memberIndex[m.Cluster])
			}
		}
		cp := m.ClusterAndPriority
		prev = &cp
	}
}

func TestLinearize_RoundTrip(t *testing.T) {
	pc := Linearize(1, []string{"A", "B"}, resolverOf(member(t, "A", 1, 1, 1), member(t, "B", 1, 1)), nil)

	for l := 0; l < pc.Len(); l++ {
		m, ok := pc.Member(uint32(l))
		require.True(t, ok)
		back, ok := pc.Linearized(m.Cluster, m.Priority)
		require.True(t, ok)
		assert.Equal(t, uint32(l), back)
	}
	assert.Len(t, pc.linearized, pc.Len())
}

func TestLinearize_Skip(t *testing.T) {
	resolve := resolverOf(member(t, "A", 1), member(t, "B", 1, 1), member(t, "C", 1))

	pc := Linearize(1, []string{"A", "B", "C"}, resolve, skipOnly("B"))
	require.Equal(t, 2, pc.Len())

	for l := 0; l < pc.Len(); l++ {
		m, _ := pc.Member(uint32(l))
		assert.NotEqual(t, "B", m.Cluster)
	}
	for p := uint32(0); p < 2; p++ {
		_, ok := pc.Linearized("B", p)
		assert.False(t, ok)
	}

	l, _ := pc.Linearized("A", 0)
	assert.Equal(t, uint32(0), l)
	l, _ = pc.Linearized("C", 0)
	assert.Equal(t, uint32(1), l)
}

func TestLinearize_Idempotent(t *testing.T) {
	resolve := resolverOf(member(t, "A", 1, 1), member(t, "B", 1))
	names := []string{"A", "B"}

	first := Linearize(1, names, resolve, nil)
	second := Linearize(2, names, resolve, nil)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.linearized, second.linearized)
	require.Equal(t, first.Len(), second.Len())
	for l := 0; l < first.Len(); l++ {
		assert.Same(t, first.HostSets()[l], second.HostSets()[l])
		m1, _ := first.Member(uint32(l))
		m2, _ := second.Member(uint32(l))
		assert.Equal(t, m1.ClusterAndPriority, m2.ClusterAndPriority)
	}
}

func TestLinearize_Empty(t *testing.T) {
	pc := Linearize(1, []string{"A", "B"}, resolverOf(), nil)
	assert.True(t, pc.Empty())
	assert.Equal(t, 0, pc.Len())

	pc = Linearize(2, []string{"A"}, resolverOf(member(t, "A", 1)), skipOnly("A"))
	assert.True(t, pc.Empty())
}
