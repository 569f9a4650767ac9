package hedera

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"realty_go/internal/domain"

	sdk "github.com/hashgraph/hedera-sdk-go/v2"
	"github.com/shopspring/decimal"
)

const service = "ledger"

var (
	tinybarsPerHbar = decimal.New(1, 8)
	usdcUnit        = decimal.New(1, 6)
)

// Config selects the network and the treasury account that operates the client.
type Config struct {
	Network         string
	TreasuryID      string
	TreasuryKey     string
	RegistryTopicID string
	USDCTokenID     string
}

// Ledger executes marketplace transactions with the treasury as operator.
type Ledger struct {
	client      *sdk.Client
	treasuryID  sdk.AccountID
	registry    *sdk.TopicID
	usdcTokenID *sdk.TokenID
	logger      *slog.Logger
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger validates the treasury credentials and builds an operator client.
func NewLedger(cfg Config, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	treasuryID, err := sdk.AccountIDFromString(cfg.TreasuryID)
	if err != nil {
		return nil, &domain.ConfigError{Field: "ledger.treasury_id", Err: err}
	}
	treasuryKey, err := sdk.PrivateKeyFromStringEd25519(cfg.TreasuryKey)
	if err != nil {
		return nil, &domain.ConfigError{Field: "ledger.treasury_key", Err: err}
	}

	l := &Ledger{treasuryID: treasuryID, logger: logger}

	if cfg.RegistryTopicID != "" {
		topic, err := sdk.TopicIDFromString(cfg.RegistryTopicID)
		if err != nil {
			return nil, &domain.ConfigError{Field: "ledger.registry_topic_id", Err: err}
		}
		l.registry = &topic
	}
	if cfg.USDCTokenID != "" {
		usdc, err := sdk.TokenIDFromString(cfg.USDCTokenID)
		if err != nil {
			return nil, &domain.ConfigError{Field: "ledger.usdc_token_id", Err: err}
		}
		l.usdcTokenID = &usdc
	}

	switch cfg.Network {
	case "mainnet":
		l.client = sdk.ClientForMainnet()
	case "previewnet":
		l.client = sdk.ClientForPreviewnet()
	default:
		l.client = sdk.ClientForTestnet()
	}
	l.client.SetOperator(treasuryID, treasuryKey)

	return l, nil
}

// Close releases the client's connections.
func (l *Ledger) Close() error {
	return l.client.Close()
}

// signingKey parses the wallet key, raw ED25519 or DER encoded.
func signingKey(w domain.HederaWallet) (sdk.PrivateKey, error) {
	if !w.CanSign() {
		return sdk.PrivateKey{}, domain.NewValidationError("private_key", "wallet %s has no signing key", w.AccountID)
	}
	if len(w.PrivateKey) == 64 {
		return sdk.PrivateKeyFromStringEd25519(w.PrivateKey)
	}
	return sdk.PrivateKeyFromStringDer(w.PrivateKey)
}

// withContext runs call in the background and stops waiting when ctx ends. The
// SDK takes no context, so an abandoned call runs until the client's own timeout.
func withContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// receiptStatus submits a frozen transaction and waits for its receipt, giving up
// when ctx ends.
func (l *Ledger) receiptStatus(ctx context.Context, op string, execute func() (sdk.TransactionResponse, error)) (string, error) {
	type settled struct {
		resp    sdk.TransactionResponse
		receipt sdk.TransactionReceipt
	}

	start := time.Now()
	res, err := withContext(ctx, func() (settled, error) {
		resp, err := execute()
		if err != nil {
			return settled{}, err
		}
		receipt, err := resp.GetReceipt(l.client)
		return settled{resp: resp, receipt: receipt}, err
	})
	if err != nil {
		return "", domain.WrapService(service, op, err)
	}
	resp, receipt := res.resp, res.receipt

	status := receipt.Status.String()
	l.logger.Info("Ledger transaction settled",
		slog.String("op", op),
		slog.String("status", status),
		slog.String("tx", resp.TransactionID.String()),
		slog.Duration("took", time.Since(start)),
	)
	return status, nil
}

// EnableAutoAssociation lets the account receive up to slots tokens without explicit association.
func (l *Ledger) EnableAutoAssociation(ctx context.Context, w domain.HederaWallet, slots int32) (string, error) {
	accountID, err := sdk.AccountIDFromString(w.AccountID)
	if err != nil {
		return "", domain.NewValidationError("account_id", "%v", err)
	}
	key, err := signingKey(w)
	if err != nil {
		return "", err
	}

	tx, err := sdk.NewAccountUpdateTransaction().
		SetAccountID(accountID).
		SetMaxAutomaticTokenAssociations(slots).
		FreezeWith(l.client)
	if err != nil {
		return "", domain.WrapService(service, "enable auto association", err)
	}

	return l.receiptStatus(ctx, "enable auto association", func() (sdk.TransactionResponse, error) {
		return tx.Sign(key).Execute(l.client)
	})
}

// AssociateToken associates one token with the account.
func (l *Ledger) AssociateToken(ctx context.Context, w domain.HederaWallet, tokenID string) (string, error) {
	accountID, err := sdk.AccountIDFromString(w.AccountID)
	if err != nil {
		return "", domain.NewValidationError("account_id", "%v", err)
	}
	token, err := sdk.TokenIDFromString(tokenID)
	if err != nil {
		return "", domain.NewValidationError("token_id", "%v", err)
	}
	key, err := signingKey(w)
	if err != nil {
		return "", err
	}

	tx, err := sdk.NewTokenAssociateTransaction().
		SetAccountID(accountID).
		SetTokenIDs(token).
		FreezeWith(l.client)
	if err != nil {
		return "", domain.WrapService(service, "associate token", err)
	}

	return l.receiptStatus(ctx, "associate token", func() (sdk.TransactionResponse, error) {
		return tx.Sign(key).Execute(l.client)
	})
}

// Buy moves the payment from the buyer to the treasury and the tokens the other way,
// in one transfer transaction.
func (l *Ledger) Buy(ctx context.Context, t domain.TokenTransfer) (string, error) {
	return l.settle(ctx, "buy", t, true)
}

// Sell moves tokens from the seller to the treasury and the payment back to the seller.
func (l *Ledger) Sell(ctx context.Context, t domain.TokenTransfer) (string, error) {
	return l.settle(ctx, "sell", t, false)
}

func (l *Ledger) settle(ctx context.Context, op string, t domain.TokenTransfer, buying bool) (string, error) {
	accountID, err := sdk.AccountIDFromString(t.Wallet.AccountID)
	if err != nil {
		return "", domain.NewValidationError("account_id", "%v", err)
	}
	token, err := sdk.TokenIDFromString(t.TokenID)
	if err != nil {
		return "", domain.NewValidationError("token_id", "%v", err)
	}
	key, err := signingKey(t.Wallet)
	if err != nil {
		return "", err
	}

	// from pays tokens, to receives them; payment flows the other way.
	from, to := l.treasuryID, accountID
	if !buying {
		from, to = accountID, l.treasuryID
	}

	tx := sdk.NewTransferTransaction().
		AddTokenTransfer(token, from, -t.Amount).
		AddTokenTransfer(token, to, t.Amount)

	if t.Payment.IsPositive() {
		switch t.Pair {
		case domain.PairUSDC:
			if l.usdcTokenID == nil {
				return "", &domain.ConfigError{Field: "ledger.usdc_token_id", Err: fmt.Errorf("USDC pair requires a token id")}
			}
			units := t.Payment.Mul(usdcUnit).IntPart()
			tx.AddTokenTransfer(*l.usdcTokenID, to, -units).
				AddTokenTransfer(*l.usdcTokenID, from, units)
		default:
			tinybars := t.Payment.Mul(tinybarsPerHbar).IntPart()
			tx.AddHbarTransfer(to, sdk.HbarFromTinybar(-tinybars)).
				AddHbarTransfer(from, sdk.HbarFromTinybar(tinybars))
		}
	}

	frozen, err := tx.FreezeWith(l.client)
	if err != nil {
		return "", domain.WrapService(service, op, err)
	}

	return l.receiptStatus(ctx, op, func() (sdk.TransactionResponse, error) {
		return frozen.Sign(key).Execute(l.client)
	})
}

// TreasuryBalance returns the treasury's HBAR balance.
func (l *Ledger) TreasuryBalance(ctx context.Context) (decimal.Decimal, error) {
	balance, err := withContext(ctx, func() (sdk.AccountBalance, error) {
		return sdk.NewAccountBalanceQuery().
			SetAccountID(l.treasuryID).
			Execute(l.client)
	})
	if err != nil {
		return decimal.Zero, domain.WrapService(service, "balance query", err)
	}
	return decimal.NewFromInt(balance.Hbars.AsTinybar()).Div(tinybarsPerHbar), nil
}

type registryMessage struct {
	Type        string `json:"type"`
	TokenID     string `json:"tokenId"`
	MetadataCID string `json:"metadataCID"`
	Timestamp   string `json:"timestamp"`
}

func newRegistryMessage(tokenID, metadataCID string, now time.Time) ([]byte, error) {
	return json.Marshal(registryMessage{
		Type:        "RealEstateAsset",
		TokenID:     tokenID,
		MetadataCID: metadataCID,
		Timestamp:   now.UTC().Format(time.RFC3339),
	})
}

// PublishToRegistry announces a listed asset on the registry topic.
func (l *Ledger) PublishToRegistry(ctx context.Context, tokenID, metadataCID string) (string, error) {
	if l.registry == nil {
		return "", &domain.ConfigError{Field: "ledger.registry_topic_id", Err: fmt.Errorf("no registry topic configured")}
	}

	msg, err := newRegistryMessage(tokenID, metadataCID, time.Now())
	if err != nil {
		return "", err
	}

	return l.receiptStatus(ctx, "publish to registry", func() (sdk.TransactionResponse, error) {
		return sdk.NewTopicMessageSubmitTransaction().
			SetTopicID(*l.registry).
			SetMessage(msg).
			Execute(l.client)
	})
}
