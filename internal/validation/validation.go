package validation

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"bonanza-lottery/internal/models"
)

// Ticket rejection messages.
const (
	MsgNotAscending = "number should be asc"
	MsgOutOfRange   = "number should in range 1-45"
	MsgTicketSize   = "ticket should have 6 numbers"
)

// MaxIDsPerQuery bounds comma-separated id lists accepted in query strings.
const MaxIDsPerQuery = 1000

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateTicket checks six strictly ascending numbers in [1,45].
func ValidateTicket(nums []int) (models.Numbers, error) {
	var n models.Numbers
	if len(nums) != models.NumbersPerTicket {
		return n, &ValidationError{Field: "tickets", Message: MsgTicketSize}
	}
	for i := 1; i < len(nums); i++ {
		if nums[i] <= nums[i-1] {
			return n, &ValidationError{Field: "tickets", Message: MsgNotAscending}
		}
	}
	for i, v := range nums {
		if v < models.MinNumber || v > models.MaxNumber {
			return n, &ValidationError{Field: "tickets", Message: MsgOutOfRange}
		}
		n[i] = uint8(v)
	}
	return n, nil
}

// ValidateTickets validates a purchase batch. The field of a failure names the ticket index.
func ValidateTickets(tickets [][]int) ([]models.Numbers, error) {
	out := make([]models.Numbers, len(tickets))
	for i, nums := range tickets {
		n, err := ValidateTicket(nums)
		if err != nil {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("tickets[%d]", i),
				Message: err.(*ValidationError).Message,
			}
		}
		out[i] = n
	}
	return out, nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ParseAddress parses a 0x-prefixed hex account address.
func ParseAddress(s, fieldName string) (common.Address, error) {
	s = SanitizeString(s)
	if s == "" {
		return common.Address{}, &ValidationError{Field: fieldName, Message: "is required"}
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, &ValidationError{Field: fieldName, Message: "must be a hex address"}
	}
	return common.HexToAddress(s), nil
}

// ParseRoundID parses a positive round id.
func ParseRoundID(s string) (uint64, error) {
	id, err := strconv.ParseUint(SanitizeString(s), 10, 64)
	if err != nil || id == 0 {
		return 0, &ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}

// ParseTicketIDs parses a comma-separated list of ticket ids.
func ParseTicketIDs(s string) ([]uint64, error) {
	s = SanitizeString(s)
	if s == "" {
		return nil, &ValidationError{Field: "ids", Message: "is required"}
	}
	parts := strings.Split(s, ",")
	if len(parts) > MaxIDsPerQuery {
		return nil, &ValidationError{
			Field:   "ids",
			Message: fmt.Sprintf("cannot contain more than %d ids", MaxIDsPerQuery),
		}
	}
	ids := make([]uint64, 0, len(parts))
	for i, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("ids[%d]", i),
				Message: "must be a non-negative integer",
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseRefCode accepts a 0x-prefixed 32-byte hex code or a short text code, which is
// right-padded with zero bytes the way bytes32 string literals are.
func ParseRefCode(s string) (common.Hash, error) {
	s = SanitizeString(s)
	if s == "" {
		return common.Hash{}, nil
	}
	if strings.HasPrefix(s, "0x") && len(s) == 2+2*common.HashLength {
		b, err := hexutil.Decode(s)
		if err != nil {
			return common.Hash{}, &ValidationError{Field: "ref_code", Message: "must be hex"}
		}
		return common.BytesToHash(b), nil
	}
	if len(s) >= common.HashLength {
		return common.Hash{}, &ValidationError{Field: "ref_code", Message: "must be shorter than 32 bytes"}
	}
	var h common.Hash
	copy(h[:], s)
	return h, nil
}

// ParseAmount parses a non-negative integer amount in the token's smallest unit.
func ParseAmount(s, fieldName string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(SanitizeString(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, &ValidationError{Field: fieldName, Message: "must be a non-negative integer"}
	}
	return v, nil
}

// ParseNumbers parses "1,2,3,4,5,6" into a validated combination.
func ParseNumbers(s string) (models.Numbers, error) {
	parts := strings.Split(SanitizeString(s), ",")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return models.Numbers{}, &ValidationError{Field: "numbers", Message: "must be comma-separated integers"}
		}
		nums = append(nums, v)
	}
	n, err := ValidateTicket(nums)
	if err != nil {
		return n, &ValidationError{Field: "numbers", Message: err.(*ValidationError).Message}
	}
	return n, nil
}
