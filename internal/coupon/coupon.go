// Package coupon verifies and issues signed discount vouchers.
package coupon

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/signature"
)

// BasisPoints is the denominator of Coupon.Saleoff.
const BasisPoints = 10000

var (
	ErrExpired      = errors.New("coupon expired")
	ErrBelowMinimum = errors.New("coupon below minimum payment")
	ErrBadSignature = errors.New("coupon bad signature")
	ErrRedeemed     = errors.New("coupon already redeemed")
)

// Schema is Coupon(uint256 id,uint256 saleoff,uint256 maxSaleOff,uint256 minPayment,uint256 start,uint256 end,address owner).
var Schema = signature.Schema{
	PrimaryType: "Coupon",
	Fields: []apitypes.Type{
		{Name: "id", Type: "uint256"},
		{Name: "saleoff", Type: "uint256"},
		{Name: "maxSaleOff", Type: "uint256"},
		{Name: "minPayment", Type: "uint256"},
		{Name: "start", Type: "uint256"},
		{Name: "end", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// NewDomain returns the coupon signing domain for a chain and verifying contract.
func NewDomain(chainID *big.Int, verifyingContract common.Address) signature.Domain {
	return signature.Domain{
		Name:              "Coupon",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// Message renders c as the typed-data message that is hashed and signed.
func Message(c models.Coupon) map[string]interface{} {
	return map[string]interface{}{
		"id":         decimal(c.ID),
		"saleoff":    new(big.Int).SetUint64(c.Saleoff).String(),
		"maxSaleOff": decimal(c.MaxSaleOff),
		"minPayment": decimal(c.MinPayment),
		"start":      new(big.Int).SetUint64(c.Start).String(),
		"end":        new(big.Int).SetUint64(c.End).String(),
		"owner":      c.Owner.Hex(),
	}
}

func decimal(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// Discount is min(charge × saleoff / 10000, maxSaleOff); a zero maxSaleOff means uncapped.
func Discount(c models.Coupon, charge *big.Int) *big.Int {
	d := new(big.Int).Mul(charge, new(big.Int).SetUint64(c.Saleoff))
	d.Quo(d, big.NewInt(BasisPoints))
	if c.MaxSaleOff != nil && c.MaxSaleOff.Sign() > 0 && d.Cmp(c.MaxSaleOff) > 0 {
		d.Set(c.MaxSaleOff)
	}
	if d.Cmp(charge) > 0 {
		d.Set(charge)
	}
	return d
}

// Verifier validates coupons against one trusted issuer.
type Verifier struct {
	sig *signature.Verifier
}

func NewVerifier(domain signature.Domain, signer common.Address) *Verifier {
	return &Verifier{sig: signature.NewVerifier(domain, signer)}
}

// Signer returns the trusted issuer address.
func (v *Verifier) Signer() common.Address {
	return v.sig.Signer()
}

// Verify checks the validity window, the minimum payment and the issuer signature, and
// returns the discount for charge. Owner names the issuing affiliate; it is covered by the
// signature but any buyer may redeem the coupon.
func (v *Verifier) Verify(c models.Coupon, charge *big.Int, now time.Time) (*big.Int, error) {
	ts := uint64(now.Unix())
	if (c.Start != 0 && ts < c.Start) || (c.End != 0 && ts > c.End) {
		return nil, ErrExpired
	}
	if c.MinPayment != nil && charge.Cmp(c.MinPayment) < 0 {
		return nil, ErrBelowMinimum
	}
	if err := v.sig.Verify(Schema, Message(c), c.Sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return Discount(c, charge), nil
}

// Sign issues c under domain, returning the 65-byte signature.
func Sign(domain signature.Domain, c models.Coupon, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := signature.Hash(domain, Schema, Message(c))
	if err != nil {
		return nil, err
	}
	return signature.Sign(digest, key)
}
