package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeleteFromSliceUnordered(t *testing.T) {
	a := []int{1, 2, 3}
	require.ElementsMatch(t, []int{2, 3}, DeleteFromSliceUnordered(a, 0))

	a = []int{1, 2, 3}
	require.Equal(t, []int{1, 2}, DeleteFromSliceUnordered(a, 2))

	a = []int{1}
	require.Empty(t, DeleteFromSliceUnordered(a, 0))
}

func TestClamp(t *testing.T) {
	require.Equal(t, 5, Clamp(9, 0, 5))
	require.Equal(t, 0, Clamp(-3, 0, 5))
	require.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
}
