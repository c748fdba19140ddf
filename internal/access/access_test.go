package access

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestControl(t *testing.T) {
	admin := common.HexToAddress("0xad")
	op := common.HexToAddress("0x0b")
	other := common.HexToAddress("0x0c")

	c := NewControl(admin)
	require.True(t, c.Has(RoleAdmin, admin))
	require.ErrorIs(t, c.Require(RoleOperator, op), ErrUnauthorized)

	c.Grant(RoleOperator, op)
	require.NoError(t, c.Require(RoleOperator, op))

	c.Replace(RoleOperator, other)
	require.False(t, c.Has(RoleOperator, op))
	got, ok := c.Member(RoleOperator)
	require.True(t, ok)
	require.Equal(t, other, got)

	c.Revoke(RoleOperator, other)
	_, ok = c.Member(RoleOperator)
	require.False(t, ok)
}
