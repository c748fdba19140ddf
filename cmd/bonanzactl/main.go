package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"bonanza-lottery/internal/config"
	"bonanza-lottery/internal/coupon"
	"bonanza-lottery/internal/middleware"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/validation"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "bonanzactl"
	app.Usage = "operate a BonanzaLottery engine over its HTTP API"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "api", Value: "http://localhost:8080", Usage: "engine API base URL", EnvVar: "BONANZA_API"},
		cli.StringFlag{Name: "caller", Usage: "caller address sent in the X-Caller-Address header", EnvVar: "BONANZA_CALLER"},
		cli.StringFlag{Name: "token", Usage: "bearer token, takes precedence over --caller", EnvVar: "BONANZA_TOKEN"},
		cli.IntFlag{Name: "decimals", Value: 18, Usage: "payment token decimals"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "start",
			Usage: "open the next lottery",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration", Value: 4 * time.Hour, Usage: "time until the lottery ends"},
				cli.StringFlag{Name: "price", Value: "5", Usage: "ticket price in whole tokens"},
				cli.Uint64Flag{Name: "divisor", Value: 1984, Usage: "bulk discount divisor"},
			},
			Action: startLottery,
		},
		{
			Name:   "inject",
			Usage:  "inject the configured amount into the jackpot carry",
			Action: injectFunds,
		},
		{
			Name:  "buy",
			Usage: "buy tickets in a lottery",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "lottery", Usage: "lottery id, 0 for the current one"},
				cli.StringFlag{Name: "tickets", Usage: "tickets as 1,2,3,4,5,6;7,8,9,10,11,12"},
				cli.StringFlag{Name: "ref", Usage: "referral code"},
				cli.StringFlag{Name: "coupon", Usage: "path to a signed coupon JSON file"},
			},
			Action: buyTickets,
		},
		{
			Name:   "close",
			Usage:  "close a lottery after its end time",
			Flags:  []cli.Flag{cli.Uint64Flag{Name: "lottery", Usage: "lottery id, 0 for the current one"}},
			Action: closeLottery,
		},
		{
			Name:  "draw",
			Usage: "publish the winning numbers and settle a closed lottery",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "lottery", Usage: "lottery id, 0 for the current one"},
				cli.StringFlag{Name: "numbers", Usage: "winning numbers as 1,2,3,4,5,6"},
				cli.BoolFlag{Name: "save", Usage: "save the numbers on the engine first (fixed randomness mode)"},
			},
			Action: drawLottery,
		},
		{
			Name:  "claim",
			Usage: "claim tickets of a claimable lottery",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "lottery", Usage: "lottery id, 0 for the current one"},
				cli.StringFlag{Name: "ids", Usage: "ticket ids as 1,2,3"},
			},
			Action: claimTickets,
		},
		{
			Name:   "view",
			Usage:  "show a lottery",
			Flags:  []cli.Flag{cli.Uint64Flag{Name: "lottery", Usage: "lottery id, 0 for the current one"}},
			Action: viewLottery,
		},
		{
			Name:  "coupon",
			Usage: "coupon tooling",
			Subcommands: []cli.Command{
				{
					Name:  "sign",
					Usage: "sign a coupon offline and print it as JSON",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "key", Usage: "hex private key of the coupon signer", EnvVar: "BONANZA_COUPON_KEY"},
						cli.Int64Flag{Name: "chain-id", Value: 1337, Usage: "signing domain chain id"},
						cli.StringFlag{Name: "contract", Usage: "signing domain verifying contract"},
						cli.StringFlag{Name: "id", Usage: "coupon id"},
						cli.Uint64Flag{Name: "saleoff", Usage: "discount in basis points"},
						cli.StringFlag{Name: "max-saleoff", Value: "0", Usage: "discount cap in whole tokens"},
						cli.StringFlag{Name: "min-payment", Value: "0", Usage: "minimum charge in whole tokens"},
						cli.DurationFlag{Name: "valid-for", Value: 24 * time.Hour, Usage: "validity window from now"},
						cli.StringFlag{Name: "owner", Usage: "restrict the coupon to this buyer"},
					},
					Action: signCoupon,
				},
			},
		},
		{
			Name:  "referral",
			Usage: "referral tooling",
			Subcommands: []cli.Command{
				{
					Name:  "create",
					Usage: "create a referral link for the caller",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "code", Usage: "referral code"},
						cli.UintFlag{Name: "percent", Usage: "owner share in basis points"},
						cli.StringFlag{Name: "agent", Usage: "main agent address"},
					},
					Action: createReferral,
				},
				{
					Name:   "withdraw",
					Usage:  "withdraw the caller's referral balance",
					Action: withdrawReferral,
				},
			},
		},
		{
			Name:  "fund",
			Usage: "mint and approve tokens for the caller (dev endpoints)",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "amount", Value: "1000", Usage: "amount in whole tokens"},
			},
			Action: fundCaller,
		},
		{
			Name:  "token",
			Usage: "issue a bearer token for an account",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "secret", Usage: "HS256 secret shared with the engine", EnvVar: "JWT_SECRET"},
				cli.StringFlag{Name: "account", Usage: "account the token authenticates"},
				cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
			},
			Action: issueToken,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func clientFrom(c *cli.Context) (*client, error) {
	var caller common.Address
	if raw := c.GlobalString("caller"); raw != "" {
		addr, err := validation.ParseAddress(raw, "caller")
		if err != nil {
			return nil, err
		}
		caller = addr
	}
	return newClient(c.GlobalString("api"), caller, c.GlobalString("token")), nil
}

func decimals(c *cli.Context) int32 {
	return int32(c.GlobalInt("decimals"))
}

func tokens(c *cli.Context, flag string) (*big.Int, error) {
	amount, err := config.ParseTokens(c.String(flag), decimals(c))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return amount, nil
}

// lotteryID resolves --lottery, falling back to the current lottery.
func lotteryID(ctx context.Context, c *cli.Context, api *client) (uint64, error) {
	if id := c.Uint64("lottery"); id != 0 {
		return id, nil
	}
	var current models.CurrentLotteryResponse
	if err := api.get(ctx, "/lotteries/current", &current); err != nil {
		return 0, err
	}
	if current.LotteryID == 0 {
		return 0, fmt.Errorf("no lottery has been started")
	}
	return current.LotteryID, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func startLottery(c *cli.Context) error {
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	price, err := tokens(c, "price")
	if err != nil {
		return err
	}
	req := models.StartLotteryRequest{
		EndTime:         time.Now().Add(c.Duration("duration")).Unix(),
		PriceTicket:     price,
		DiscountDivisor: c.Uint64("divisor"),
	}
	var round models.Round
	if err := api.post(context.Background(), "/lotteries", req, &round); err != nil {
		return err
	}
	fmt.Print(formatRound(round, decimals(c)))
	return nil
}

func injectFunds(c *cli.Context) error {
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	var resp models.AmountResponse
	if err := api.post(context.Background(), "/treasury/inject", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("injected %s\n", config.FormatTokens(resp.Amount, decimals(c)))
	return nil
}

func buyTickets(c *cli.Context) error {
	ctx := context.Background()
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	tickets, err := parseTickets(c.String("tickets"))
	if err != nil {
		return err
	}
	id, err := lotteryID(ctx, c, api)
	if err != nil {
		return err
	}

	req := models.BuyTicketsRequest{Tickets: tickets}
	if path := c.String("coupon"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read coupon: %w", err)
		}
		req.Coupon = &models.Coupon{}
		if err := json.Unmarshal(data, req.Coupon); err != nil {
			return fmt.Errorf("failed to parse coupon: %w", err)
		}
	}

	path := fmt.Sprintf("/lotteries/%d/tickets", id)
	if ref := c.String("ref"); ref != "" {
		code, err := validation.ParseRefCode(ref)
		if err != nil {
			return err
		}
		req.RefCode = code
	}

	var receipt models.PurchaseReceipt
	if err := api.post(ctx, path, req, &receipt); err != nil {
		return err
	}
	fmt.Printf("bought %d tickets in lottery %d for %s (ids %v)\n", len(receipt.TicketIDs), receipt.RoundID,
		config.FormatTokens(receipt.Charged, decimals(c)), receipt.TicketIDs)
	return nil
}

func closeLottery(c *cli.Context) error {
	ctx := context.Background()
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	id, err := lotteryID(ctx, c, api)
	if err != nil {
		return err
	}
	if err := api.post(ctx, fmt.Sprintf("/lotteries/%d/close", id), nil, nil); err != nil {
		return err
	}
	fmt.Printf("lottery %d closed\n", id)
	return nil
}

// drawLottery counts winners for the given numbers and settles the lottery with them.
func drawLottery(c *cli.Context) error {
	ctx := context.Background()
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	numbers, err := validation.ParseNumbers(c.String("numbers"))
	if err != nil {
		return err
	}
	id, err := lotteryID(ctx, c, api)
	if err != nil {
		return err
	}

	if c.Bool("save") {
		if err := api.post(ctx, "/randomness", models.SaveResultRequest{Numbers: numbers}, nil); err != nil {
			return err
		}
	}

	var counts models.WinCountsResponse
	path := fmt.Sprintf("/lotteries/%d/win-counts?numbers=%s", id, joinNumbers(numbers))
	if err := api.get(ctx, path, &counts); err != nil {
		return err
	}

	var round models.Round
	if err := api.post(ctx, fmt.Sprintf("/lotteries/%d/draw", id), models.DrawRequest{WinCounts: counts.WinCounts}, &round); err != nil {
		return err
	}
	fmt.Print(formatRound(round, decimals(c)))
	return nil
}

func joinNumbers(n models.Numbers) string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}

func claimTickets(c *cli.Context) error {
	ctx := context.Background()
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	ids, err := validation.ParseTicketIDs(c.String("ids"))
	if err != nil {
		return err
	}
	id, err := lotteryID(ctx, c, api)
	if err != nil {
		return err
	}
	var receipt models.ClaimReceipt
	if err := api.post(ctx, fmt.Sprintf("/lotteries/%d/claims", id), models.ClaimTicketsRequest{TicketIDs: ids}, &receipt); err != nil {
		return err
	}
	fmt.Printf("claimed %d tickets in lottery %d for %s\n", receipt.Count, receipt.RoundID,
		config.FormatTokens(receipt.Amount, decimals(c)))
	return nil
}

func viewLottery(c *cli.Context) error {
	ctx := context.Background()
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	id, err := lotteryID(ctx, c, api)
	if err != nil {
		return err
	}
	var round models.Round
	if err := api.get(ctx, fmt.Sprintf("/lotteries/%d", id), &round); err != nil {
		return err
	}
	fmt.Print(formatRound(round, decimals(c)))
	return nil
}

func signCoupon(c *cli.Context) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.String("key"), "0x"))
	if err != nil {
		return fmt.Errorf("--key: %w", err)
	}
	id, ok := new(big.Int).SetString(c.String("id"), 10)
	if !ok || id.Sign() <= 0 {
		return fmt.Errorf("--id must be a positive integer")
	}
	maxSaleOff, err := tokens(c, "max-saleoff")
	if err != nil {
		return err
	}
	minPayment, err := tokens(c, "min-payment")
	if err != nil {
		return err
	}

	var contract, owner common.Address
	if raw := c.String("contract"); raw != "" {
		if contract, err = validation.ParseAddress(raw, "contract"); err != nil {
			return err
		}
	}
	if raw := c.String("owner"); raw != "" {
		if owner, err = validation.ParseAddress(raw, "owner"); err != nil {
			return err
		}
	}

	now := time.Now()
	cp := models.Coupon{
		ID:         id,
		Saleoff:    c.Uint64("saleoff"),
		MaxSaleOff: maxSaleOff,
		MinPayment: minPayment,
		Start:      uint64(now.Unix()),
		End:        uint64(now.Add(c.Duration("valid-for")).Unix()),
		Owner:      owner,
	}
	sig, err := coupon.Sign(coupon.NewDomain(big.NewInt(c.Int64("chain-id")), contract), cp, key)
	if err != nil {
		return fmt.Errorf("failed to sign coupon: %w", err)
	}
	cp.Sig = hexutil.Bytes(sig)

	logrus.WithField("signer", crypto.PubkeyToAddress(key.PublicKey).Hex()).Info("coupon signed")
	return printJSON(cp)
}

func createReferral(c *cli.Context) error {
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	code, err := validation.ParseRefCode(c.String("code"))
	if err != nil {
		return err
	}
	req := models.CreateLinkRequest{Code: code, Percent: uint32(c.Uint("percent"))}
	if raw := c.String("agent"); raw != "" {
		if req.MainAgent, err = validation.ParseAddress(raw, "agent"); err != nil {
			return err
		}
	}
	var link models.ReferralLink
	if err := api.post(context.Background(), "/referrals/links", req, &link); err != nil {
		return err
	}
	return printJSON(link)
}

func withdrawReferral(c *cli.Context) error {
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	var resp models.AmountResponse
	if err := api.post(context.Background(), "/referrals/withdraw", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("withdrew %s\n", config.FormatTokens(resp.Amount, decimals(c)))
	return nil
}

// fundCaller mints to the caller and approves the engine to pull the same amount.
func fundCaller(c *cli.Context) error {
	ctx := context.Background()
	api, err := clientFrom(c)
	if err != nil {
		return err
	}
	if api.caller == (common.Address{}) {
		return fmt.Errorf("--caller is required")
	}
	amount, err := tokens(c, "amount")
	if err != nil {
		return err
	}
	if err := api.post(ctx, "/dev/faucet", models.FaucetRequest{Account: api.caller, Amount: amount}, nil); err != nil {
		return err
	}
	if err := api.post(ctx, "/dev/approve", models.ApproveRequest{Amount: amount}, nil); err != nil {
		return err
	}
	fmt.Printf("funded %s with %s\n", api.caller.Hex(), config.FormatTokens(amount, decimals(c)))
	return nil
}

func issueToken(c *cli.Context) error {
	if c.String("secret") == "" {
		return fmt.Errorf("--secret is required")
	}
	account, err := validation.ParseAddress(c.String("account"), "account")
	if err != nil {
		return err
	}
	now := time.Now()
	token, err := middleware.IssueToken(c.String("secret"), account, jwt.RegisteredClaims{
		Issuer:    "bonanzactl",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.Duration("ttl"))),
	})
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
