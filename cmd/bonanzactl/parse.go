package main

import (
	"fmt"
	"strconv"
	"strings"

	"bonanza-lottery/internal/config"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/validation"
)

// parseTickets reads "1,2,3,4,5,6;7,8,9,10,11,12" into validated tickets.
func parseTickets(s string) ([][]int, error) {
	var tickets [][]int
	for i, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		var ticket []int
		for _, part := range strings.Split(group, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("ticket %d: %q is not a number", i, part)
			}
			ticket = append(ticket, n)
		}
		tickets = append(tickets, ticket)
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("at least one ticket is required")
	}
	if _, err := validation.ValidateTickets(tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// formatRound renders the token amounts of a round in whole tokens.
func formatRound(r models.Round, decimals int32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "lottery %d: %s\n", r.ID, r.Status)
	fmt.Fprintf(&b, "  window:    %d - %d\n", r.StartTime, r.EndTime)
	fmt.Fprintf(&b, "  price:     %s (divisor %d)\n", config.FormatTokens(r.PriceTicket, decimals), r.DiscountDivisor)
	fmt.Fprintf(&b, "  tickets:   %d (ids %d - %d)\n", r.TicketCount, r.FirstTicketID, r.FirstTicketIDNextRound)
	fmt.Fprintf(&b, "  gross:     %s\n", config.FormatTokens(r.AmountTotal, decimals))
	fmt.Fprintf(&b, "  collected: %s\n", config.FormatTokens(r.AmountCollected, decimals))
	if r.Status == models.StatusClaimable {
		fmt.Fprintf(&b, "  final:     %v\n", r.FinalNumber)
		for bracket := 0; bracket < models.Brackets; bracket++ {
			fmt.Fprintf(&b, "  %d-match:   %d winners, %s each\n", bracket+3, r.TicketsWin[bracket],
				config.FormatTokens(r.PrizeAmounts[bracket], decimals))
		}
	}
	return b.String()
}
