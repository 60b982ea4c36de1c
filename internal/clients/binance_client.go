package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates a Binance client. An empty baseURL keeps the SDK default.
func NewBinanceClient(apiKey, apiSecret, baseURL string) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return client
}
