package signature

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	PrimaryType: "Mail",
	Fields: []apitypes.Type{
		{Name: "id", Type: "uint256"},
		{Name: "to", Type: "address"},
	},
}

func testDomain() Domain {
	return Domain{
		Name:              "Coupon",
		Version:           "1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}
}

func testMessage(id string) map[string]interface{} {
	return map[string]interface{}{
		"id": id,
		"to": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	}
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	digest, err := Hash(testDomain(), testSchema, testMessage("7"))
	require.NoError(t, err)

	sig, err := Sign(digest, key)
	require.NoError(t, err)
	require.Len(t, sig, Length)
	require.GreaterOrEqual(t, sig[64], byte(27))

	v := NewVerifier(testDomain(), crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, v.Verify(testSchema, testMessage("7"), sig))

	// raw recovery ids are accepted too
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	require.NoError(t, v.Verify(testSchema, testMessage("7"), raw))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	digest, err := Hash(testDomain(), testSchema, testMessage("7"))
	require.NoError(t, err)
	sig, err := Sign(digest, key)
	require.NoError(t, err)

	v := NewVerifier(testDomain(), crypto.PubkeyToAddress(key.PublicKey))
	err = v.Verify(testSchema, testMessage("8"), sig)
	require.True(t, errors.Is(err, ErrMismatch) || errors.Is(err, ErrMalformed))
}

func TestVerifyRejectsOtherDomain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	digest, err := Hash(testDomain(), testSchema, testMessage("7"))
	require.NoError(t, err)
	sig, err := Sign(digest, key)
	require.NoError(t, err)

	other := testDomain()
	other.ChainID = big.NewInt(1)
	v := NewVerifier(other, crypto.PubkeyToAddress(key.PublicKey))
	require.Error(t, v.Verify(testSchema, testMessage("7"), sig))
}

func TestRecoverMalformed(t *testing.T) {
	_, err := Recover(common.Hash{1}, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformed)

	sig := make([]byte, Length)
	sig[64] = 40
	_, err = Recover(common.Hash{1}, sig)
	require.ErrorIs(t, err, ErrMalformed)
}
