package source

import (
	"encoding/json"
	"fmt"
	"math"

	"marketdash/internal/model"
)

// parseKlineRows decodes positional kline rows of the form
// [openTime, open, high, low, close, volume, ...]. Both Binance and Bybit use
// this layout; extra trailing columns are ignored.
func parseKlineRows(rows [][]json.RawMessage) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", model.ErrMalformedPayload, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseKlineRow(row []json.RawMessage) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("expected at least 6 columns, got %d", len(row))
	}
	ts, err := parseTimestamp(row[0])
	if err != nil {
		return model.Candle{}, fmt.Errorf("open time: %v", err)
	}

	var vals [5]float64
	for j := range vals {
		v, err := parseNumber(row[j+1])
		if err != nil {
			return model.Candle{}, fmt.Errorf("column %d: %v", j+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Candle{}, fmt.Errorf("column %d: not finite", j+1)
		}
		vals[j] = v
	}

	return model.Candle{
		TS:     ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
