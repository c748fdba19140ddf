package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestValidateTicket(t *testing.T) {
	tests := []struct {
		name    string
		nums    []int
		wantMsg string
	}{
		{"valid", []int{1, 2, 3, 4, 5, 6}, ""},
		{"valid upper bound", []int{40, 41, 42, 43, 44, 45}, ""},
		{"not ascending", []int{1, 2, 3, 5, 4, 6}, MsgNotAscending},
		{"duplicate", []int{1, 2, 3, 3, 4, 6}, MsgNotAscending},
		{"zero", []int{0, 2, 3, 4, 5, 6}, MsgOutOfRange},
		{"above range", []int{1, 2, 3, 4, 5, 46}, MsgOutOfRange},
		{"too short", []int{1, 2, 3, 4, 5}, MsgTicketSize},
		{"too long", []int{1, 2, 3, 4, 5, 6, 7}, MsgTicketSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ValidateTicket(tt.nums)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				for i, v := range tt.nums {
					if int(n[i]) != v {
						t.Errorf("Expected %d at %d, got %d", v, i, n[i])
					}
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if ve.Message != tt.wantMsg {
				t.Errorf("Expected message %q, got %q", tt.wantMsg, ve.Message)
			}
		})
	}
}

func TestValidateTickets_NamesIndex(t *testing.T) {
	_, err := ValidateTickets([][]int{{1, 2, 3, 4, 5, 6}, {6, 5, 4, 3, 2, 1}})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if ve.Field != "tickets[1]" {
		t.Errorf("Expected field tickets[1], got %s", ve.Field)
	}
	if ve.Message != MsgNotAscending {
		t.Errorf("Expected %q, got %q", MsgNotAscending, ve.Message)
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000000aA ", "account")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if addr != common.HexToAddress("0xaa") {
		t.Errorf("Unexpected address %s", addr.Hex())
	}

	if _, err := ParseAddress("not-an-address", "account"); err == nil {
		t.Error("Expected error for invalid address")
	}
	if _, err := ParseAddress("", "account"); err == nil {
		t.Error("Expected error for empty address")
	}
}

func TestParseRoundID(t *testing.T) {
	if id, err := ParseRoundID("12"); err != nil || id != 12 {
		t.Errorf("Expected 12, got %d (%v)", id, err)
	}
	for _, s := range []string{"0", "-1", "abc", ""} {
		if _, err := ParseRoundID(s); err == nil {
			t.Errorf("Expected error for %q", s)
		}
	}
}

func TestParseTicketIDs(t *testing.T) {
	ids, err := ParseTicketIDs("0, 1,42")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 1 || ids[2] != 42 {
		t.Errorf("Unexpected ids %v", ids)
	}

	if _, err := ParseTicketIDs("1,x"); err == nil {
		t.Error("Expected error for non-numeric id")
	}

	tooMany := strings.Repeat("1,", MaxIDsPerQuery) + "1"
	if _, err := ParseTicketIDs(tooMany); err == nil {
		t.Error("Expected error for oversized list")
	}
}

func TestParseRefCode(t *testing.T) {
	code, err := ParseRefCode("duynghia")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(code[:8]) != "duynghia" || code[8] != 0 {
		t.Errorf("Expected right-padded text code, got %s", code.Hex())
	}

	hex := "0x" + strings.Repeat("ab", 32)
	code, err = ParseRefCode(hex)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if code != common.HexToHash(hex) {
		t.Errorf("Expected %s, got %s", hex, code.Hex())
	}

	if code, err := ParseRefCode(""); err != nil || code != (common.Hash{}) {
		t.Errorf("Expected zero code for empty input, got %s (%v)", code.Hex(), err)
	}
	if _, err := ParseRefCode(strings.Repeat("x", 32)); err == nil {
		t.Error("Expected error for 32-byte text code")
	}
}

func TestParseNumbers(t *testing.T) {
	n, err := ParseNumbers("3, 9,17,22,30,45")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n.String() != "3,9,17,22,30,45" {
		t.Errorf("Unexpected combination %s", n)
	}
	if _, err := ParseNumbers("1,2,3"); err == nil {
		t.Error("Expected error for short combination")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  ab\x00c\t "); got != "abc" {
		t.Errorf("Expected %q, got %q", "abc", got)
	}
}
