// Package market builds the synthetic daily series shown next to the assistant.
package market

import (
	"errors"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"
)

// Series shape
const (
	Days      = 180
	SMAPeriod = 50
	RSIPeriod = 14
	minPrice  = 10.0
)

// Symbols lists the tradable symbols
var Symbols = []string{"BTC/USD", "ETH/USD", "SPY", "AAPL", "TSLA"}

// ErrUnknownSymbol is returned for a symbol outside Symbols
var ErrUnknownSymbol = errors.New("unknown symbol")

// Point is one trading day
type Point struct {
	Date   string   `json:"date"`
	Price  float64  `json:"price"`
	Volume int64    `json:"volume"`
	SMA50  *float64 `json:"sma50"`
	RSI    *float64 `json:"rsi"`
}

// Known reports whether symbol is listed
func Known(symbol string) bool {
	for _, s := range Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Seed derives a stable per-symbol, per-day seed
func Seed(symbol string, day time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(day.UTC().Format("2006-01-02")))
	return h.Sum64()
}

// Generate returns Days points ending the day before end. Equal seeds give equal series.
func Generate(symbol string, seed uint64, end time.Time) ([]Point, error) {
	if !Known(symbol) {
		return nil, ErrUnknownSymbol
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	price := rng.Float64()*200 + 100
	volatility := 0.02 + rng.Float64()*0.05
	end = end.UTC()

	prices := make([]float64, 0, Days)
	points := make([]Point, 0, Days)
	for i := 0; i < Days; i++ {
		price *= 1 + (rng.Float64()-0.49)*volatility
		price = math.Max(price, minPrice)
		prices = append(prices, price)

		p := Point{
			Date:   end.AddDate(0, 0, -(Days - i)).Format("2006-01-02"),
			Price:  round2(price),
			Volume: rng.Int64N(1_000_000) + 500_000,
		}
		if v, ok := SMA(prices, SMAPeriod); ok {
			v = round2(v)
			p.SMA50 = &v
		}
		if v, ok := RSI(prices, RSIPeriod); ok {
			v = round2(v)
			p.RSI = &v
		}
		points = append(points, p)
	}
	return points, nil
}

// SMA is the mean of the last period prices
func SMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), true
}

// RSI is the relative strength index over the last period price changes
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}
	window := prices[len(prices)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		diff := window[i] - window[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
