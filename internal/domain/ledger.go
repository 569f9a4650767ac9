package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// StatusSuccess is the receipt status of a transaction that reached consensus and applied.
const StatusSuccess = "SUCCESS"

// AutoAssociationSlots is how many automatic token associations are requested for an account.
const AutoAssociationSlots = 10

// TokenTransfer describes one settlement between a wallet and the treasury.
// Amount is in the token's smallest unit; Payment is in whole HBAR or USDC depending on Pair.
type TokenTransfer struct {
	TokenID string
	Wallet  HederaWallet
	Amount  int64
	Pair    TradingPair
	Payment decimal.Decimal
}

// Ledger executes token transactions. Every method returns the receipt status string.
type Ledger interface {
	EnableAutoAssociation(ctx context.Context, w HederaWallet, slots int32) (string, error)
	AssociateToken(ctx context.Context, w HederaWallet, tokenID string) (string, error)
	Buy(ctx context.Context, t TokenTransfer) (string, error)
	Sell(ctx context.Context, t TokenTransfer) (string, error)
}

// AssociationChecker answers whether an account already holds a token relationship.
type AssociationChecker interface {
	IsTokenAssociated(ctx context.Context, accountID, tokenID string) (bool, error)
}
