package broker

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceType is the broker's order type field.
type PriceType string

const (
	PriceLimit  PriceType = "limit"
	PriceMarket PriceType = "piyasa"
	// PriceMarketEN is accepted from callers and passed through as given.
	PriceMarketEN PriceType = "market"
)

func (p PriceType) isMarket() bool {
	return p == PriceMarket || p == PriceMarketEN
}

// LoginResult is the outcome of phase one of the login.
type LoginResult struct {
	TempToken string `json:"temp_token"`
	Message   string `json:"message,omitempty"`
}

// AuthResult is the outcome of SMS verification.
type AuthResult struct {
	AuthHash  string `json:"hash"`
	AuthToken string `json:"token,omitempty"`
	Message   string `json:"message,omitempty"`
}

// OrderRequest describes a new order. Price and Lot travel as decimal
// strings; a market order may leave Price zero.
type OrderRequest struct {
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"direction"`
	PriceType   PriceType       `json:"pricetype"`
	Price       decimal.Decimal `json:"price"`
	Lot         decimal.Decimal `json:"lot"`
	NotifySMS   bool            `json:"sms"`
	NotifyEmail bool            `json:"email"`
	Subaccount  string          `json:"subaccount"`
}

// Validate checks the request before it reaches the gate.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return invalidf("symbol must not be empty")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return invalidf("direction must be BUY or SELL, got %q", r.Side)
	}
	switch r.PriceType {
	case PriceLimit:
		if !r.Price.IsPositive() {
			return invalidf("limit order requires a positive price")
		}
	case PriceMarket, PriceMarketEN:
		if r.Price.IsNegative() {
			return invalidf("price must not be negative")
		}
	default:
		return invalidf("unknown price type %q", r.PriceType)
	}
	if !r.Lot.IsPositive() {
		return invalidf("lot must be positive")
	}
	return nil
}

// wirePrice is the price as sent to the broker: empty for an unpriced
// market order.
func (r OrderRequest) wirePrice() string {
	if r.PriceType.isMarket() && r.Price.IsZero() {
		return ""
	}
	return r.Price.String()
}

// ModifyOrderRequest changes price and quantity of a resting order.
type ModifyOrderRequest struct {
	OrderID    string          `json:"id"`
	Price      decimal.Decimal `json:"price"`
	Lot        decimal.Decimal `json:"lot"`
	Derivative bool            `json:"viop"`
	Subaccount string          `json:"subaccount"`
}

// Validate checks the request before it reaches the gate.
func (r ModifyOrderRequest) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return invalidf("order id must not be empty")
	}
	if !r.Price.IsPositive() {
		return invalidf("price must be positive")
	}
	if !r.Lot.IsPositive() {
		return invalidf("lot must be positive")
	}
	return nil
}

// OrderResult carries the broker's order reference and its raw message.
type OrderResult struct {
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// Position is one holding in the portfolio.
type Position struct {
	Symbol     string          `json:"symbol"`
	Cost       decimal.Decimal `json:"cost"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	Profit     decimal.Decimal `json:"profit"`
	ProfitRate decimal.Decimal `json:"profit_rate"`
	Available  decimal.Decimal `json:"available"`
}

// UnmarshalJSON accepts both the bridge's field names and the broker's
// native ones, with numbers given either bare or quoted.
func (p *Position) UnmarshalJSON(b []byte) error {
	f, err := decodeFields(b)
	if err != nil {
		return err
	}
	*p = Position{
		Symbol:     f.str("symbol", "code"),
		Cost:       f.dec("cost", "maliyet"),
		Amount:     f.dec("amount", "totalstock"),
		Price:      f.dec("price", "unitprice"),
		Total:      f.dec("total", "totalamount"),
		Profit:     f.dec("profit"),
		ProfitRate: f.dec("profit_rate", "profitrate"),
		Available:  f.dec("available"),
	}
	return nil
}

// CashBalances are the settlement-day balances of an account.
type CashBalances struct {
	T0      decimal.Decimal `json:"t0"`
	T1      decimal.Decimal `json:"t1"`
	T2      decimal.Decimal `json:"t2"`
	Blocked decimal.Decimal `json:"blocked"`
	Total   decimal.Decimal `json:"total"`
	Limit   decimal.Decimal `json:"limit"`
}

func (c *CashBalances) UnmarshalJSON(b []byte) error {
	f, err := decodeFields(b)
	if err != nil {
		return err
	}
	*c = CashBalances{
		T0:      f.dec("t0"),
		T1:      f.dec("t1"),
		T2:      f.dec("t2"),
		Blocked: f.dec("blocked"),
		Total:   f.dec("total"),
		Limit:   f.dec("limit"),
	}
	return nil
}

// Instrument is a market snapshot of one symbol.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	Description string          `json:"desc"`
	Price       decimal.Decimal `json:"price"`
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	Change      decimal.Decimal `json:"change"`
	ChangeRate  decimal.Decimal `json:"change_rate"`
	MarketCap   decimal.Decimal `json:"market_cap"`
	PERatio     decimal.Decimal `json:"pe_ratio"`
}

func (i *Instrument) UnmarshalJSON(b []byte) error {
	f, err := decodeFields(b)
	if err != nil {
		return err
	}
	*i = Instrument{
		Symbol:      f.str("symbol", "name"),
		Description: f.str("desc", "description"),
		Price:       f.dec("price", "lastPrice", "lst"),
		Bid:         f.dec("bid"),
		Ask:         f.dec("ask"),
		Open:        f.dec("open"),
		High:        f.dec("high"),
		Low:         f.dec("low"),
		Close:       f.dec("close", "previousClose"),
		Volume:      f.dec("volume"),
		Change:      f.dec("change"),
		ChangeRate:  f.dec("change_rate"),
		MarketCap:   f.dec("market_cap"),
		PERatio:     f.dec("pe_ratio"),
	}
	return nil
}

// Subaccount is one trading account under the login.
type Subaccount struct {
	Number      string          `json:"number"`
	Name        string          `json:"name,omitempty"`
	TradeLimit  decimal.Decimal `json:"tradeLimit"`
	CreditLimit decimal.Decimal `json:"creditLimit"`
}

func (s *Subaccount) UnmarshalJSON(b []byte) error {
	f, err := decodeFields(b)
	if err != nil {
		return err
	}
	*s = Subaccount{
		Number:      f.str("number", "Number"),
		Name:        f.str("name", "Name"),
		TradeLimit:  f.dec("tradeLimit", "TradeLimit"),
		CreditLimit: f.dec("creditLimit", "CreditLimit"),
	}
	return nil
}

// fields is a decoded JSON object whose values are read leniently.
type fields map[string]json.RawMessage

func decodeFields(b []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func (f fields) lookup(keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (f fields) str(keys ...string) string {
	raw, ok := f.lookup(keys)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.Trim(string(raw), `"`)
	}
	return s
}

// dec reads a number given bare or as a string. Empty or unparseable
// values read as zero.
func (f fields) dec(keys ...string) decimal.Decimal {
	s := strings.TrimSpace(f.str(keys...))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
