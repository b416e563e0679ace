package model

import "time"

// Timeframe is a candle bucket size, encoded the way exchanges spell it.
type Timeframe string

const (
	TF1h Timeframe = "1h"
	TF4h Timeframe = "4h"
	TF1d Timeframe = "1d"
	TF1w Timeframe = "1w"
)

// Duration returns the length of one bucket. Unknown timeframes return 0.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	case TF1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Millis returns the bucket length in epoch milliseconds.
func (tf Timeframe) Millis() int64 {
	return tf.Duration().Milliseconds()
}

func (tf Timeframe) String() string { return string(tf) }
