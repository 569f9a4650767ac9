package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseWallet(t *testing.T) {
	rawKey := strings.Repeat("ab", 32)
	derKey := "302e020100300506032b657004220420" + strings.Repeat("01", 32)

	t.Run("hedera with raw key", func(t *testing.T) {
		w, err := ParseWallet("hedera", "0.0.1234", "0x"+rawKey)
		if err != nil {
			t.Fatalf("ParseWallet failed: %v", err)
		}
		hw, ok := w.(HederaWallet)
		if !ok {
			t.Fatalf("expected HederaWallet, got %T", w)
		}
		if hw.PrivateKey != rawKey || !hw.CanSign() {
			t.Errorf("key not normalised: %q", hw.PrivateKey)
		}
		if w.Account() != "0.0.1234" || w.Kind() != WalletHedera {
			t.Errorf("unexpected account %q kind %q", w.Account(), w.Kind())
		}
	})

	t.Run("hedera with der key", func(t *testing.T) {
		if _, err := ParseWallet("HEDERA", "0.0.5", derKey); err != nil {
			t.Fatalf("DER key rejected: %v", err)
		}
	})

	t.Run("hedera read only", func(t *testing.T) {
		w, err := ParseWallet("hedera", "0.0.5", "")
		if err != nil {
			t.Fatalf("ParseWallet failed: %v", err)
		}
		if w.(HederaWallet).CanSign() {
			t.Error("wallet without key should not sign")
		}
	})

	t.Run("malformed key length", func(t *testing.T) {
		_, err := ParseWallet("hedera", "0.0.5", "abcd")
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "private_key" {
			t.Errorf("expected private_key validation error, got %v", err)
		}
	})

	t.Run("non hex key", func(t *testing.T) {
		_, err := ParseWallet("hedera", "0.0.5", strings.Repeat("zz", 32))
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("bad account id", func(t *testing.T) {
		_, err := ParseWallet("hedera", "1234", "")
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "account_id" {
			t.Errorf("expected account_id validation error, got %v", err)
		}
	})

	t.Run("evm", func(t *testing.T) {
		w, err := ParseWallet("evm", "0xABCDEF0123456789abcdef0123456789ABCDEF01", "")
		if err != nil {
			t.Fatalf("ParseWallet failed: %v", err)
		}
		if w.Kind() != WalletEVM || w.Account() != "0xabcdef0123456789abcdef0123456789abcdef01" {
			t.Errorf("unexpected evm wallet %+v", w)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		if _, err := ParseWallet("hedera", " ", ""); !errors.Is(err, ErrWalletNotConnected) {
			t.Errorf("expected ErrWalletNotConnected, got %v", err)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		if _, err := ParseWallet("solana", "abc", ""); err == nil {
			t.Error("expected error for unknown wallet type")
		}
	})
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide(" BUY "); err != nil || s != SideBuy {
		t.Errorf("ParseSide(BUY) = %q, %v", s, err)
	}
	if s, err := ParseSide("sell"); err != nil || s != SideSell {
		t.Errorf("ParseSide(sell) = %q, %v", s, err)
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
}

func TestPriceChangePct(t *testing.T) {
	history := []Candle{{Open: 10, Close: 11}, {Open: 11, Close: 12}}
	if got := PriceChangePct(history); got < 19.999 || got > 20.001 {
		t.Errorf("PriceChangePct = %v, want 20", got)
	}
	if PriceChangePct(history[:1]) != 0 {
		t.Error("single candle should have zero change")
	}
}
