package randomness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"bonanza-lottery/internal/models"
)

func TestValidate(t *testing.T) {
	sorted, err := Validate(models.Numbers{45, 3, 1, 20, 7, 9})
	require.NoError(t, err)
	require.Equal(t, models.Numbers{1, 3, 7, 9, 20, 45}, sorted)

	_, err = Validate(models.Numbers{1, 2, 3, 4, 5, 46})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Validate(models.Numbers{0, 2, 3, 4, 5, 6})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Validate(models.Numbers{1, 1, 3, 4, 5, 6})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDraw(t *testing.T) {
	for i := 0; i < 200; i++ {
		n, err := Draw()
		require.NoError(t, err)
		for j := 1; j < len(n); j++ {
			require.Less(t, n[j-1], n[j])
		}
		require.GreaterOrEqual(t, n[0], uint8(models.MinNumber))
		require.LessOrEqual(t, n[5], uint8(models.MaxNumber))
	}
}

func TestFixed(t *testing.T) {
	ctx := context.Background()
	f := NewFixed()

	_, err := f.CurrentResult(ctx)
	require.ErrorIs(t, err, ErrNotReady)

	require.Error(t, f.Save(models.Numbers{1, 2, 3, 4, 5, 99}))
	require.NoError(t, f.Save(models.Numbers{6, 5, 4, 3, 2, 1}))

	n, err := f.CurrentResult(ctx)
	require.NoError(t, err)
	require.Equal(t, models.Numbers{1, 2, 3, 4, 5, 6}, n)
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	g := NewGenerator()

	_, err := g.CurrentResult(ctx)
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, g.RequestResult(ctx, 1))
	first, err := g.CurrentResult(ctx)
	require.NoError(t, err)

	stored, ok := g.Result(1)
	require.True(t, ok)
	require.Equal(t, first, stored)

	g.draw = func() (models.Numbers, error) { return models.Numbers{}, errors.New("entropy exhausted") }
	require.Error(t, g.RequestResult(ctx, 2))
	_, ok = g.Result(2)
	require.False(t, ok)
}
