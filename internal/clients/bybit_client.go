package clients

import (
	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient creates an authenticated Bybit client. An empty baseURL keeps the SDK default.
func NewBybitClient(apiKey, apiSecret, baseURL string) *bybit.Client {
	client := bybit.NewClient().WithAuth(apiKey, apiSecret)
	if baseURL != "" {
		client = client.WithBaseURL(baseURL)
	}
	return client
}
