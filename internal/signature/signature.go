// Package signature hashes, signs and recovers EIP-712 structured messages.
package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Length of an r‖s‖v secp256k1 signature.
const Length = crypto.SignatureLength

var (
	ErrMalformed = errors.New("malformed signature")
	ErrMismatch  = errors.New("signer mismatch")
)

// Domain is the EIP-712 separator domain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) typed() apitypes.TypedDataDomain {
	chainID := new(big.Int)
	if d.ChainID != nil {
		chainID.Set(d.ChainID)
	}
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Schema describes a primary struct type, e.g. Coupon(uint256 id,...,address owner).
type Schema struct {
	PrimaryType string
	Fields      []apitypes.Type
}

// Hash returns keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message)).
func Hash(domain Domain, schema Schema, message map[string]interface{}) (common.Hash, error) {
	data := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":     domainType,
			schema.PrimaryType: schema.Fields,
		},
		PrimaryType: schema.PrimaryType,
		Domain:      domain.typed(),
		Message:     message,
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// Recover returns the address that produced sig over digest. Both v ∈ {0,1} and v ∈ {27,28}
// are accepted.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != Length {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrMalformed, len(sig))
	}
	normalized := make([]byte, Length)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrMalformed)
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign signs digest and returns r‖s‖v with v ∈ {27,28}, the form wallets produce.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Verifier checks signatures against a single trusted signer.
type Verifier struct {
	domain Domain
	signer common.Address
}

func NewVerifier(domain Domain, signer common.Address) *Verifier {
	return &Verifier{domain: domain, signer: signer}
}

func (v *Verifier) Domain() Domain {
	return v.domain
}

func (v *Verifier) Signer() common.Address {
	return v.signer
}

// Verify recomputes the typed hash of message and checks sig was made by the trusted signer.
func (v *Verifier) Verify(schema Schema, message map[string]interface{}, sig []byte) error {
	digest, err := Hash(v.domain, schema, message)
	if err != nil {
		return err
	}
	recovered, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if recovered != v.signer {
		return fmt.Errorf("%w: recovered %s", ErrMismatch, recovered.Hex())
	}
	return nil
}
