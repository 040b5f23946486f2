package seed_test

import (
	"testing"

	"github.com/okian/arena/internal/domain/seed"
	"github.com/stretchr/testify/require"
)

func outputs(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i + 1), 0xaa, byte(i * 3)}
	}
	return out
}

func TestCombineIsDeterministic(t *testing.T) {
	require.Equal(t, seed.Combine(outputs(5), 4), seed.Combine(outputs(5), 4))
}

func TestCombineUsesOnlyLastK(t *testing.T) {
	all := outputs(10)
	require.Equal(t, seed.Combine(all[6:], 4), seed.Combine(all, 4))
	require.NotEqual(t, seed.Combine(all[5:], 5), seed.Combine(all, 4))
}

func TestCombineOrderMatters(t *testing.T) {
	a := outputs(3)
	b := [][]byte{a[2], a[1], a[0]}
	require.NotEqual(t, seed.Combine(a, 3), seed.Combine(b, 3))
}

func TestCombineFoldsGenesisWhenShort(t *testing.T) {
	short := outputs(2)
	withGenesis := append([][]byte{seed.GenesisOutput[:]}, short...)

	require.NotEqual(t, seed.Combine(short, 2), seed.Combine(short, 4))
	// Padding is the same as folding genesis explicitly as the oldest output.
	require.Equal(t, seed.Combine(withGenesis, 3), seed.Combine(short, 3))
	require.False(t, seed.Combine(nil, 4).IsZero())
}

func TestWindowKeepsLastK(t *testing.T) {
	w := seed.NewWindow(3)
	all := outputs(5)
	for i, o := range all {
		require.NoError(t, w.Push(uint64(i+1), o))
	}
	require.Equal(t, all[2:], w.Outputs())
	require.Equal(t, seed.Combine(all, 3), w.Seed())

	h, ok := w.Latest()
	require.True(t, ok)
	require.Equal(t, uint64(5), h)

	require.ErrorIs(t, w.Push(5, []byte{1}), seed.ErrOutOfOrder)
	require.ErrorIs(t, w.Push(2, []byte{1}), seed.ErrOutOfOrder)
}

func TestWindowCopiesOutputs(t *testing.T) {
	w := seed.NewWindow(2)
	buf := []byte{1, 2, 3}
	require.NoError(t, w.Push(1, buf))
	buf[0] = 9
	require.Equal(t, byte(1), w.Outputs()[0][0])
}

func TestStreamDeterministicAndBounded(t *testing.T) {
	s := seed.Combine(outputs(4), 4)
	a := seed.NewStream(s, "bracket")
	b := seed.NewStream(s, "bracket")
	c := seed.NewStream(s, "other")

	same, differs := true, false
	for range 200 {
		x, y, z := a.Intn(7), b.Intn(7), c.Intn(7)
		require.GreaterOrEqual(t, x, 0)
		require.Less(t, x, 7)
		same = same && x == y
		differs = differs || x != z
	}
	require.True(t, same)
	require.True(t, differs)
	require.Zero(t, a.Intn(1))
}

func TestStreamIsRoughlyUniform(t *testing.T) {
	st := seed.NewStream(seed.Combine(outputs(1), 1), "uniform")
	counts := make([]int, 6)
	const draws = 60_000
	for range draws {
		counts[st.Intn(6)]++
	}
	for _, c := range counts {
		require.InDelta(t, draws/6, c, 600)
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	st := seed.NewStream(seed.Combine(outputs(2), 2), "shuffle")
	xs := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	st.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, xs)
}
