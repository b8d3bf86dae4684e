package broker

import (
	"slices"

	"github.com/shopspring/decimal"
)

var mustDec = decimal.RequireFromString

var fixtureInstruments = map[string]Instrument{
	"ASELS": {
		Symbol: "ASELS", Description: "ASELSAN ELEKTRONIK SANAYI",
		Price: mustDec("45.50"), Bid: mustDec("45.45"), Ask: mustDec("45.55"),
		Open: mustDec("44.80"), High: mustDec("46.20"), Low: mustDec("44.50"), Close: mustDec("45.50"),
		Volume: mustDec("1250000"), Change: mustDec("1.56"), ChangeRate: mustDec("3.55"),
		MarketCap: mustDec("10200000000"), PERatio: mustDec("12.5"),
	},
	"THYAO": {
		Symbol: "THYAO", Description: "TURK HAVA YOLLARI",
		Price: mustDec("245.50"), Bid: mustDec("245.40"), Ask: mustDec("245.60"),
		Open: mustDec("240.00"), High: mustDec("248.00"), Low: mustDec("239.50"), Close: mustDec("245.50"),
		Volume: mustDec("5500000"), Change: mustDec("5.50"), ChangeRate: mustDec("2.29"),
		MarketCap: mustDec("340000000000"), PERatio: mustDec("4.5"),
	},
	"GARAN": {
		Symbol: "GARAN", Description: "TURKIYE GARANTI BANKASI",
		Price: mustDec("65.25"), Bid: mustDec("65.20"), Ask: mustDec("65.30"),
		Open: mustDec("64.00"), High: mustDec("66.00"), Low: mustDec("63.80"), Close: mustDec("65.25"),
		Volume: mustDec("8500000"), Change: mustDec("1.25"), ChangeRate: mustDec("1.95"),
		MarketCap: mustDec("275000000000"), PERatio: mustDec("3.8"),
	},
}

var fixturePositions = []Position{
	{
		Symbol: "ASELS", Cost: mustDec("42.50"), Amount: mustDec("1000"), Price: mustDec("45.50"),
		Total: mustDec("45500.00"), Profit: mustDec("3000.00"), ProfitRate: mustDec("7.05"), Available: mustDec("1000"),
	},
	{
		Symbol: "THYAO", Cost: mustDec("230.00"), Amount: mustDec("500"), Price: mustDec("245.50"),
		Total: mustDec("122750.00"), Profit: mustDec("7750.00"), ProfitRate: mustDec("6.74"), Available: mustDec("500"),
	},
}

var fixtureCash = CashBalances{
	T0: mustDec("15000.00"), T1: mustDec("25000.00"), T2: mustDec("50000.00"),
	Blocked: mustDec("5000.00"), Total: mustDec("95000.00"), Limit: mustDec("100000.00"),
}

var fixtureSubaccounts = []Subaccount{
	{Number: "100", Name: "MAIN ACCOUNT", TradeLimit: mustDec("100000.00"), CreditLimit: mustDec("50000.00")},
	{Number: "101", Name: "SAVINGS", TradeLimit: mustDec("0.00"), CreditLimit: mustDec("0.00")},
}

// fixtureInstrument returns the snapshot for symbol. Unknown symbols get the
// ASELS data relabelled.
func fixtureInstrument(symbol string) Instrument {
	inst, ok := fixtureInstruments[symbol]
	if !ok {
		inst = fixtureInstruments["ASELS"]
	}
	inst.Symbol = symbol
	return inst
}

// FixtureSymbols lists the symbols with dedicated simulated data.
func FixtureSymbols() []string {
	out := make([]string, 0, len(fixtureInstruments))
	for s := range fixtureInstruments {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
