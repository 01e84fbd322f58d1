// Package utils provides utility functions shared across the engine.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	mrand "math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GeneratePositionID generates a unique position ID.
func GeneratePositionID() string {
	return "pos_" + uuid.NewString()
}

// FormatSymbol normalizes a trading symbol to the exchange form (BTCUSDT).
func FormatSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	symbol = strings.ToUpper(symbol)
	symbol = strings.ReplaceAll(symbol, "/", "")
	symbol = strings.ReplaceAll(symbol, "-", "")
	return symbol
}

// StreamName returns the lower-case stream identifier for a symbol, e.g.
// "btcusdt@aggTrade".
func StreamName(symbol, channel string) string {
	return strings.ToLower(symbol) + "@" + channel
}

// Backoff returns the reconnect delay for the n-th consecutive failure:
// min(60, 2^n) seconds plus uniform jitter in [0, 1).
func Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	base := math.Min(60, math.Pow(2, float64(n)))
	return time.Duration((base + mrand.Float64()) * float64(time.Second))
}

// SimpleReturns computes per-step simple returns from a price series.
// Returns nil when fewer than two prices are given.
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (prices[i]-prev)/prev)
	}
	return out
}

// PearsonCorrelation computes the Pearson correlation of two equal-length
// series. Returns 0 when the series are too short or degenerate.
func PearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}
	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
