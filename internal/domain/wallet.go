package domain

import (
	"encoding/hex"
	"regexp"
	"strings"
)

// WalletKind tags the variant of a connected wallet.
type WalletKind string

const (
	WalletHedera WalletKind = "hedera"
	WalletEVM    WalletKind = "evm"
)

// Wallet is a connected wallet. The only implementations are HederaWallet and EVMWallet.
type Wallet interface {
	Kind() WalletKind
	// Account returns the identifier the mirror node accepts for this wallet.
	Account() string
	wallet()
}

// HederaWallet is a native ledger account. PrivateKey is hex encoded (raw or DER)
// and may be empty for read-only use.
type HederaWallet struct {
	AccountID  string
	PrivateKey string
}

func (HederaWallet) Kind() WalletKind  { return WalletHedera }
func (w HederaWallet) Account() string { return w.AccountID }
func (HederaWallet) wallet()           {}

// CanSign reports whether the wallet carries a signing key.
func (w HederaWallet) CanSign() bool { return w.PrivateKey != "" }

// EVMWallet is a generic EVM-style provider identified by its address.
type EVMWallet struct {
	Address string
}

func (EVMWallet) Kind() WalletKind  { return WalletEVM }
func (w EVMWallet) Account() string { return w.Address }
func (EVMWallet) wallet()           {}

var (
	accountIDPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// IsAccountID reports whether s looks like a shard.realm.num ledger id.
func IsAccountID(s string) bool {
	return accountIDPattern.MatchString(s)
}

// ParseWallet validates raw connection data and returns the matching variant.
func ParseWallet(kind, account, privateKey string) (Wallet, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, ErrWalletNotConnected
	}

	switch WalletKind(strings.ToLower(kind)) {
	case WalletHedera:
		if !IsAccountID(account) {
			return nil, NewValidationError("account_id", "expected shard.realm.num, got %q", account)
		}
		key, err := normalizePrivateKey(privateKey)
		if err != nil {
			return nil, err
		}
		return HederaWallet{AccountID: account, PrivateKey: key}, nil
	case WalletEVM:
		if !evmAddressPattern.MatchString(account) {
			return nil, NewValidationError("address", "expected 0x followed by 40 hex characters, got %q", account)
		}
		return EVMWallet{Address: strings.ToLower(account)}, nil
	default:
		return nil, NewValidationError("wallet_type", "unknown wallet type %q", kind)
	}
}

// normalizePrivateKey accepts raw 32-byte keys (64 hex chars) and DER encoded
// ED25519/ECDSA keys (96 or 100 hex chars), with or without a 0x prefix.
func normalizePrivateKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "0x")
	if key == "" {
		return "", nil
	}
	switch len(key) {
	case 64, 96, 100:
	default:
		return "", NewValidationError("private_key", "unexpected key length %d", len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", NewValidationError("private_key", "not hex encoded")
	}
	return key, nil
}
