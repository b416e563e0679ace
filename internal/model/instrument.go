package model

import (
	"fmt"
	"strings"
)

// Instrument identifies a trading pair on one exchange.
type Instrument struct {
	Exchange string `json:"exchange"`
	Base     string `json:"base"`  // e.g. BTC
	Quote    string `json:"quote"` // e.g. USDT
}

// ParseInstrument accepts "BTC/USDT", "btc-usdt" or "BTC_USDT".
func ParseInstrument(exchange, symbol string) (Instrument, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_", ":"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			if parts[0] == "" || parts[1] == "" {
				break
			}
			return Instrument{Exchange: exchange, Base: parts[0], Quote: parts[1]}, nil
		}
	}
	return Instrument{}, fmt.Errorf("%w: symbol %q must look like BASE/QUOTE", ErrInvalidParam, symbol)
}

// Pair returns the canonical "BASE/QUOTE" form.
func (i Instrument) Pair() string {
	return i.Base + "/" + i.Quote
}

// Ticker returns the concatenated exchange ticker, e.g. "BTCUSDT".
func (i Instrument) Ticker() string {
	return i.Base + i.Quote
}
