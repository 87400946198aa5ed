package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nsweave/internal/faults"
)

func TestAddPhynode(t *testing.T) {
	inf := New()
	require.NoError(t, inf.AddPhynode(&Phynode{ID: "alpha", Groups: [][]int{{0, 1}}}))
	require.NoError(t, inf.AddPhynode(&Phynode{ID: "beta", Groups: [][]int{{0, 1, 2}, {3}}}))

	t.Run("keeps declaration order", func(t *testing.T) {
		assert.Equal(t, []string{"alpha", "beta"}, inf.PhynodeIDs())
	})

	t.Run("rejects a redefined phynode", func(t *testing.T) {
		err := inf.AddPhynode(&Phynode{ID: "alpha"})
		require.ErrorIs(t, err, faults.ErrConfigMalformed)
	})

	t.Run("counts cores across groups and hosts", func(t *testing.T) {
		p, ok := inf.Phynode("beta")
		require.True(t, ok)
		assert.Equal(t, 4, p.TotalCores())
		assert.Equal(t, 6, inf.TotalCores())
	})
}

func TestCoreGroupsIsACopy(t *testing.T) {
	inf := New()
	require.NoError(t, inf.AddPhynode(&Phynode{ID: "alpha", Groups: [][]int{{0, 1, 2}}}))

	groups := inf.CoreGroups()
	groups["alpha"][0] = groups["alpha"][0][2:]
	groups["alpha"][0][0] = 99

	p, _ := inf.Phynode("alpha")
	assert.Equal(t, [][]int{{0, 1, 2}}, p.Groups)
}
