package api

import (
	"atlas_trader/internal/ledger" // Action prices
	"atlas_trader/internal/market" // Synthetic series
	"net/http"                     // HTTP status codes
	"strings"                      // String manipulation
	"time"                         // Clock

	"github.com/gin-gonic/gin" // Gin web framework
)

// normalizeSymbol accepts BTC-USD and btc/usd for BTC/USD
func normalizeSymbol(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "/"))
}

// ListSymbolsHandler returns the tradable symbols and the price of each action
func ListSymbolsHandler(pricing ledger.Pricing) gin.HandlerFunc {
	prices := make(gin.H, len(pricing))
	for _, action := range pricing.Actions() {
		prices[action] = pricing[action]
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"symbols": market.Symbols, // Tradable symbols
			"prices":  prices,         // Tokens per action
		})
	}
}

// MarketHandler returns the daily series of one symbol
func MarketHandler(now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := normalizeSymbol(c.Param("symbol"))
		if !market.Known(symbol) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown symbol"})
			return
		}
		end := now()
		points, err := market.Generate(symbol, market.Seed(symbol, end), end)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown symbol"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"symbol": symbol, // Normalized symbol
			"points": points, // Oldest first
		})
	}
}
