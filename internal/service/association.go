package service

import (
	"context"
	"fmt"
	"log/slog"

	"realty_go/internal/domain"
)

// AssociationMode reports how a token association was satisfied.
type AssociationMode string

const (
	AssociationExisting AssociationMode = "existing"
	AssociationAuto     AssociationMode = "auto"
	AssociationManual   AssociationMode = "manual"
)

// AssociationResult is the outcome of AssociateToken.
type AssociationResult struct {
	Mode   AssociationMode `json:"mode"`
	Status string          `json:"status,omitempty"`
}

// TokenAssociationManager checks and creates token associations for connected wallets.
type TokenAssociationManager struct {
	checker domain.AssociationChecker
	ledger  domain.Ledger
	logger  *slog.Logger
}

// NewTokenAssociationManager wires the mirror node checker and the ledger.
// ledger may be nil for read-only deployments.
func NewTokenAssociationManager(checker domain.AssociationChecker, ledger domain.Ledger, logger *slog.Logger) *TokenAssociationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenAssociationManager{checker: checker, ledger: ledger, logger: logger}
}

// IsTokenAssociated asks the mirror node whether the wallet's account holds tokenID.
// Both wallet variants are supported.
func (m *TokenAssociationManager) IsTokenAssociated(ctx context.Context, w domain.Wallet, tokenID string) (bool, error) {
	if w == nil {
		return false, domain.ErrWalletNotConnected
	}
	if !domain.IsAccountID(tokenID) {
		return false, domain.NewValidationError("token_id", "expected shard.realm.num, got %q", tokenID)
	}

	ok, err := m.checker.IsTokenAssociated(ctx, w.Account(), tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to check token association: %w", err)
	}
	return ok, nil
}

// AssociateToken makes sure the wallet can hold tokenID. Native accounts first try
// automatic association slots and fall back to an explicit association.
func (m *TokenAssociationManager) AssociateToken(ctx context.Context, w domain.Wallet, tokenID string) (*AssociationResult, error) {
	if w == nil {
		return nil, domain.ErrWalletNotConnected
	}

	hw, ok := w.(domain.HederaWallet)
	if !ok {
		return nil, fmt.Errorf("associate %s for %s wallet: %w", tokenID, w.Kind(), domain.ErrUnsupportedWallet)
	}
	if !hw.CanSign() {
		return nil, domain.NewValidationError("private_key", "wallet %s has no signing key", hw.AccountID)
	}
	if m.ledger == nil {
		return nil, fmt.Errorf("associate %s: %w", tokenID, domain.ErrUnsupportedWallet)
	}

	associated, err := m.IsTokenAssociated(ctx, hw, tokenID)
	if err != nil {
		return nil, err
	}
	if associated {
		return &AssociationResult{Mode: AssociationExisting}, nil
	}

	status, err := m.ledger.EnableAutoAssociation(ctx, hw, domain.AutoAssociationSlots)
	if err == nil && status == domain.StatusSuccess {
		m.logger.Info("Auto association enabled", slog.String("account", hw.AccountID), slog.String("token", tokenID))
		return &AssociationResult{Mode: AssociationAuto, Status: status}, nil
	}
	m.logger.Warn("Auto association failed, falling back to manual",
		slog.String("account", hw.AccountID),
		slog.String("status", status),
		slog.Any("error", err))

	status, err = m.ledger.AssociateToken(ctx, hw, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to associate token: %w", err)
	}
	if status != domain.StatusSuccess {
		return nil, &domain.TransactionStatusError{Op: "token association", Status: status}
	}

	m.logger.Info("Token associated", slog.String("account", hw.AccountID), slog.String("token", tokenID))
	return &AssociationResult{Mode: AssociationManual, Status: status}, nil
}
