package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/balancecache/pkg/retrier"
)

const (
	defaultTimeout    = 8 * time.Second
	defaultMaxRetries = 1
	defaultRetryDelay = 500 * time.Millisecond
)

// WalletClient talks to the platform wallet REST API.
type WalletClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retrier    *retrier.Retrier
}

// NewWalletClient creates a client for the wallet API at baseURL.
func NewWalletClient(baseURL, apiKey string, timeout time.Duration) *WalletClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &WalletClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retrier: retrier.New(
			retrier.WithMaxRetries(defaultMaxRetries),
			retrier.WithInitialInterval(defaultRetryDelay),
		),
	}
}

// WalletBalances balances of one account as reported by the wallet API.
type WalletBalances struct {
	Network    string            `json:"network"`
	Balances   map[string]string `json:"balances"`
	CapturedAt time.Time         `json:"captured_at"`
}

type walletResponse struct {
	Success bool            `json:"success"`
	Data    *WalletBalances `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// GetBalances fetches balances of accountID on network. Client errors (4xx) are not retried.
func (c *WalletClient) GetBalances(ctx context.Context, accountID, network string) (WalletBalances, error) {
	if accountID == "" {
		return WalletBalances{}, errors.New("account id is empty")
	}

	var out WalletBalances
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		res, err := c.sendRequest(ctx, accountID, network)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return WalletBalances{}, err
	}

	return out, nil
}

func (c *WalletClient) sendRequest(ctx context.Context, accountID, network string) (WalletBalances, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/balances", c.baseURL, url.PathEscape(accountID))
	if network != "" {
		endpoint += "?network=" + url.QueryEscape(network)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return WalletBalances{}, retrier.Permanent(errors.Wrap(err, "failed to create HTTP request"))
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return WalletBalances{}, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return WalletBalances{}, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("wallet API returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return WalletBalances{}, retrier.Permanent(err)
		}
		return WalletBalances{}, err
	}

	var walletResp walletResponse
	if err := json.Unmarshal(body, &walletResp); err != nil {
		return WalletBalances{}, retrier.Permanent(errors.Wrap(err, "failed to unmarshal response"))
	}

	if !walletResp.Success || walletResp.Data == nil {
		msg := walletResp.Error
		if msg == "" {
			msg = "no data"
		}
		return WalletBalances{}, retrier.Permanent(fmt.Errorf("wallet API error: %s", msg))
	}

	return *walletResp.Data, nil
}
