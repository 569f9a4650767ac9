package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"realty_go/internal/domain"
	"realty_go/internal/infra"

	"github.com/shopspring/decimal"
)

const service = "mirror node"

var (
	tinybarsPerHbar = decimal.New(1, 8)
	usdcUnit        = decimal.New(1, 6)
)

// Account is the subset of the mirror node account document used by the marketplace.
type Account struct {
	Account    string `json:"account"`
	EVMAddress string `json:"evm_address"`
	Memo       string `json:"memo"`
	Balance    struct {
		Balance   int64          `json:"balance"`
		Timestamp string         `json:"timestamp"`
		Tokens    []TokenBalance `json:"tokens"`
	} `json:"balance"`
	MaxAutomaticTokenAssociations int32 `json:"max_automatic_token_associations"`
}

// TokenBalance is one token relationship of an account.
type TokenBalance struct {
	TokenID string `json:"token_id"`
	Balance int64  `json:"balance"`
}

// Balances holds the spendable HBAR and USDC of an account.
type Balances struct {
	HBAR decimal.Decimal `json:"hbar"`
	USDC decimal.Decimal `json:"usdc"`
}

// Client queries the ledger's mirror node REST API.
type Client struct {
	baseURL     string
	usdcTokenID string
	httpClient  *http.Client
	retry       infra.RetryPolicy
}

// NewClient creates a mirror node client. usdcTokenID selects the token reported as USDC.
func NewClient(baseURL, usdcTokenID string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		usdcTokenID: usdcTokenID,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retry:       infra.DefaultRetryPolicy,
	}
}

// getJSON decodes the response into out. It returns found=false on 404.
func (c *Client) getJSON(ctx context.Context, op, path string, out any) (found bool, err error) {
	err = c.retry.Do(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return domain.NewNetworkError(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			found = false
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return infra.StatusError(op, resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.NewFatalNetworkError(op, fmt.Errorf("decode response: %w", err))
		}
		found = true
		return nil
	})
	if err != nil {
		return false, domain.WrapService(service, op, err)
	}
	return found, nil
}

// AccountProfile fetches the account document.
func (c *Client) AccountProfile(ctx context.Context, accountID string) (*Account, error) {
	var acct Account
	found, err := c.getJSON(ctx, "account profile", "/api/v1/accounts/"+url.PathEscape(accountID), &acct)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	return &acct, nil
}

// Balances returns the HBAR and USDC balances of an account in whole units.
func (c *Client) Balances(ctx context.Context, accountID string) (Balances, error) {
	acct, err := c.AccountProfile(ctx, accountID)
	if err != nil {
		return Balances{}, err
	}

	b := Balances{
		HBAR: decimal.NewFromInt(acct.Balance.Balance).Div(tinybarsPerHbar),
		USDC: decimal.Zero,
	}
	for _, t := range acct.Balance.Tokens {
		if t.TokenID == c.usdcTokenID {
			b.USDC = decimal.NewFromInt(t.Balance).Div(usdcUnit)
			break
		}
	}
	return b, nil
}

// IsTokenAssociated reports whether account holds a relationship with tokenID.
// Unknown accounts are reported as not associated.
func (c *Client) IsTokenAssociated(ctx context.Context, accountID, tokenID string) (bool, error) {
	var page struct {
		Tokens []TokenBalance `json:"tokens"`
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/tokens?token.id=%s&limit=100",
		url.PathEscape(accountID), url.QueryEscape(tokenID))

	found, err := c.getJSON(ctx, "token association", path, &page)
	if err != nil || !found {
		return false, err
	}

	for _, t := range page.Tokens {
		if t.TokenID == tokenID {
			return true, nil
		}
	}
	return false, nil
}
