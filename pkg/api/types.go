package api

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/lendbook/lendbook/pkg/book"
)

// All amounts and prices on the wire are fixed-point decimal strings
// (1e18 = one token). Sides are "buy" (quote) and "sell" (base).

// ==============================
// Request Types
// ==============================

type DepositRequest struct {
	From        string `json:"from"`
	Side        string `json:"side"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	PairedPrice string `json:"pairedPrice,omitempty"`
	Borrowable  bool   `json:"borrowable"`
}

type WithdrawRequest struct {
	From     string `json:"from"`
	OrderID  uint64 `json:"orderId"`
	Quantity string `json:"quantity"`
}

type BorrowRequest struct {
	From     string `json:"from"`
	OrderID  uint64 `json:"orderId"`
	Quantity string `json:"quantity"`
}

type RepayRequest struct {
	From       string `json:"from"`
	PositionID uint64 `json:"positionId"`
	Quantity   string `json:"quantity"`
}

type TakeRequest struct {
	From     string `json:"from"`
	OrderID  uint64 `json:"orderId"`
	Quantity string `json:"quantity"`
}

type LiquidateRequest struct {
	From       string `json:"from"`
	PositionID uint64 `json:"positionId"`
}

type ChangePriceRequest struct {
	From    string `json:"from"`
	OrderID uint64 `json:"orderId"`
	Price   string `json:"price"`
}

type SetBorrowableRequest struct {
	From       string `json:"from"`
	OrderID    uint64 `json:"orderId"`
	Borrowable bool   `json:"borrowable"`
}

type FaucetRequest struct {
	To     string `json:"to"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

type SetPriceRequest struct {
	Price string `json:"price"`
}

// ==============================
// Response Types
// ==============================

type DepositResponse struct {
	OrderID uint64 `json:"orderId"`
}

type BorrowResponse struct {
	PositionID uint64 `json:"positionId"`
}

type TakeResponse struct {
	OrderID       uint64 `json:"orderId"`
	Quantity      string `json:"quantity"`
	Exchanged     string `json:"exchanged"`
	WrittenOff    string `json:"writtenOff"`
	Seized        string `json:"seized"`
	SelfRepaid    string `json:"selfRepaid"`
	MakerProceeds string `json:"makerProceeds"`
}

type LiquidateResponse struct {
	PositionID uint64        `json:"positionId"`
	ViaTake    bool          `json:"viaTake"`
	Debt       string        `json:"debt,omitempty"`
	Fee        string        `json:"fee,omitempty"`
	Seized     string        `json:"seized,omitempty"`
	Take       *TakeResponse `json:"take,omitempty"`
}

type OrderInfo struct {
	ID          uint64 `json:"id"`
	Maker       string `json:"maker"`
	Side        string `json:"side"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	PairedPrice string `json:"pairedPrice"`
	Borrowable  bool   `json:"borrowable"`
	Lent        string `json:"lent"`
}

type PositionInfo struct {
	ID       uint64 `json:"id"`
	Borrower string `json:"borrower"`
	OrderID  uint64 `json:"orderId"`
	Borrowed string `json:"borrowed"`
}

type AccountInfo struct {
	Address string          `json:"address"`
	Quote   AccountSideInfo `json:"quote"`
	Base    AccountSideInfo `json:"base"`
}

// AccountSideInfo reports one side of a user's book standing plus their
// vault balance in that token.
type AccountSideInfo struct {
	VaultBalance     string `json:"vaultBalance"`
	TotalDeposit     string `json:"totalDeposit"`
	TotalBorrow      string `json:"totalBorrow"`
	NeededCollateral string `json:"neededCollateral"`
	ExcessCollateral string `json:"excessCollateral"`
}

type RatesInfo struct {
	Side             string `json:"side"`
	Utilization      string `json:"utilization"`
	AnnualRate       string `json:"annualRate"`
	InstantRate      string `json:"instantRate"`
	TimeWeightedRate string `json:"timeWeightedRate"`
	TotalAssets      string `json:"totalAssets"`
	TotalBorrow      string `json:"totalBorrow"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest is a client subscription control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// ==============================
// Parsing helpers
// ==============================

func parseSide(s string) (book.Side, error) {
	switch s {
	case "buy":
		return book.Buy, nil
	case "sell":
		return book.Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q: want \"buy\" or \"sell\"", s)
	}
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// parseOptionalAmount treats "" as nil (use the default).
func parseOptionalAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(s)
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
