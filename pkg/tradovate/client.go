// Package tradovate is the brokerage collaborator: sub-account and open
// position queries plus the contract reference-data lookups.
package tradovate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tradevault/tickstream/pkg/models"
)

// Contract is the broker's contract record.
type Contract struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	ContractMaturityID int64  `json:"contractMaturityId"`
}

// Maturity links a contract to its product.
type Maturity struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"productId"`
	Expiry    string `json:"expirationDate"`
}

// Product carries the contract multiplier metadata.
type Product struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	ValuePerPoint float64 `json:"valuePerPoint"`
	TickSize      float64 `json:"tickSize"`
}

// Account is one brokerage sub-account.
type Account struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
}

// PositionItem is the broker's raw open-position row.
type PositionItem struct {
	ID         int64   `json:"id"`
	AccountID  int64   `json:"accountId"`
	ContractID int64   `json:"contractId"`
	NetPos     int64   `json:"netPos"`
	NetPrice   float64 `json:"netPrice"`
}

// ContractSource is the three-step reference-data chain consumed by the
// refdata cache.
type ContractSource interface {
	Contract(ctx context.Context, id int64) (Contract, error)
	Maturity(ctx context.Context, id int64) (Maturity, error)
	Product(ctx context.Context, id int64) (Product, error)
	Flavor() models.VenueFlavor
}

// Client talks to the Tradovate REST API for one venue flavor.
type Client struct {
	accessToken string
	baseURL     string
	flavor      models.VenueFlavor
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *logrus.Logger
}

func NewClient(accessToken string, flavor models.VenueFlavor, logger *logrus.Logger) *Client {
	baseURL := "https://live.tradovateapi.com/v1"
	if flavor == models.FlavorDemo {
		baseURL = "https://demo.tradovateapi.com/v1"
	}
	return &Client{
		accessToken: accessToken,
		baseURL:     baseURL,
		flavor:      flavor,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
		logger:      logger,
	}
}

func (c *Client) Flavor() models.VenueFlavor { return c.flavor }

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker request %s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Contract(ctx context.Context, id int64) (Contract, error) {
	var out Contract
	q := url.Values{"id": {fmt.Sprintf("%d", id)}}
	err := c.getJSON(ctx, "/contract/item", q, &out)
	return out, err
}

func (c *Client) Maturity(ctx context.Context, id int64) (Maturity, error) {
	var out Maturity
	q := url.Values{"id": {fmt.Sprintf("%d", id)}}
	err := c.getJSON(ctx, "/contractMaturity/item", q, &out)
	return out, err
}

func (c *Client) Product(ctx context.Context, id int64) (Product, error) {
	var out Product
	q := url.Values{"id": {fmt.Sprintf("%d", id)}}
	err := c.getJSON(ctx, "/product/item", q, &out)
	return out, err
}

func (c *Client) accounts(ctx context.Context) (map[int64]Account, error) {
	var list []Account
	if err := c.getJSON(ctx, "/account/list", nil, &list); err != nil {
		return nil, err
	}
	out := make(map[int64]Account, len(list))
	for _, a := range list {
		out[a.ID] = a
	}
	return out, nil
}

// OpenPositions returns the user's open positions across every linked
// sub-account, joined with account nickname and display name. The access
// token scopes which sub-accounts are visible; userID is recorded for
// logging and tracing only.
func (c *Client) OpenPositions(ctx context.Context, userID string) ([]models.Position, error) {
	accounts, err := c.accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("account list failed: %w", err)
	}

	var items []PositionItem
	if err := c.getJSON(ctx, "/position/list", nil, &items); err != nil {
		return nil, fmt.Errorf("position list failed: %w", err)
	}

	positions := make([]models.Position, 0, len(items))
	for _, item := range items {
		contract, err := c.Contract(ctx, item.ContractID)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"user_id":     userID,
				"contract_id": item.ContractID,
			}).Warn("Contract lookup failed for position, skipping")
			continue
		}
		acct := accounts[item.AccountID]
		positions = append(positions, models.Position{
			AccountID:          item.AccountID,
			AccountNickname:    acct.Nickname,
			AccountDisplayName: acct.Name,
			Symbol:             contract.Name,
			ContractID:         item.ContractID,
			NetPos:             item.NetPos,
			EntryPrice:         item.NetPrice,
		})
	}
	return positions, nil
}
