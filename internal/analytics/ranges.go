package analytics

import (
	"fmt"
	"strings"

	"marketdash/internal/model"
)

// RangeSpec maps a short range code to a timeframe and a visible candle count.
type RangeSpec struct {
	Code  string          `json:"code"`
	TF    model.Timeframe `json:"timeframe"`
	Count int             `json:"count"`
}

const defaultRange = "1Y"

var ranges = map[string]RangeSpec{
	"1M": {Code: "1M", TF: model.TF1d, Count: 30},
	"3M": {Code: "3M", TF: model.TF1d, Count: 90},
	"6M": {Code: "6M", TF: model.TF1d, Count: 180},
	"1Y": {Code: "1Y", TF: model.TF1d, Count: 365},
	"2Y": {Code: "2Y", TF: model.TF1w, Count: 104},
	"5Y": {Code: "5Y", TF: model.TF1w, Count: 260},
}

// ParseRange resolves a range code; "" selects 1Y.
func ParseRange(code string) (RangeSpec, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		c = defaultRange
	}
	r, ok := ranges[c]
	if !ok {
		return RangeSpec{}, fmt.Errorf("%w: unknown range %q (use 1M, 3M, 6M, 1Y, 2Y or 5Y)", model.ErrInvalidParam, code)
	}
	return r, nil
}
