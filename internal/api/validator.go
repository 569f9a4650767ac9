package api

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"

	"realty_go/internal/domain"
)

// Validator handles validation logic separate from HTTP concerns
type Validator struct{}

var (
	validatorInstance *Validator
	validatorOnce     sync.Once
)

// GetValidator returns the singleton validator instance
func GetValidator() *Validator {
	validatorOnce.Do(func() {
		validatorInstance = &Validator{}
	})
	return validatorInstance
}

// ValidateAssetID validates and sanitizes a token id path parameter.
func (v *Validator) ValidateAssetID(id string) (string, error) {
	clean := v.sanitizeInput(id)
	if clean == "" {
		return "", domain.NewValidationError("asset_id", "asset id is required")
	}
	if !domain.IsAccountID(clean) {
		return "", domain.NewValidationError("asset_id", "asset id must look like 0.0.1234")
	}
	return clean, nil
}

// ValidateSeedPrice parses the optional ?price= seed. Empty means no seed.
func (v *Validator) ValidateSeedPrice(raw string) (float64, error) {
	clean := v.sanitizeInput(raw)
	if clean == "" {
		return 0, nil
	}
	price, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, domain.NewValidationError("price", "price must be a valid number")
	}
	if err := positive("price", price); err != nil {
		return 0, err
	}
	return price, nil
}

// ValidateImpactRequest checks a price impact request body.
func (v *Validator) ValidateImpactRequest(req impactRequest) (domain.Side, error) {
	if err := positive("previous_price", req.PreviousPrice); err != nil {
		return "", err
	}
	if math.IsNaN(req.Amount) || req.Amount < 0 {
		return "", domain.NewValidationError("amount", "amount must not be negative")
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return "", domain.NewValidationError("side", "%w: %q", err, req.Side)
	}
	return side, nil
}

// ValidateWallet builds the wallet variant from request fields.
func (v *Validator) ValidateWallet(kind, account, key string) (domain.Wallet, error) {
	if kind == "" {
		kind = string(domain.WalletHedera)
	}
	return domain.ParseWallet(v.sanitizeInput(kind), v.sanitizeInput(account), v.sanitizeInput(key))
}

// ValidateOrderRequest checks an order body and converts it to a service request.
// Numeric checks are repeated by the order service.
func (v *Validator) ValidateOrderRequest(req orderRequest) (domain.Side, domain.TradingPair, error) {
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return "", "", domain.NewValidationError("side", "%w: %q", err, req.Side)
	}
	pair := domain.TradingPair(strings.ToUpper(v.sanitizeInput(req.TradingPair)))
	if pair == "" {
		pair = domain.PairUSDC
	}
	return side, pair, nil
}

func positive(field string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return domain.NewValidationError(field, "%s must be positive", field)
	}
	return nil
}

// sanitizeInput removes potentially dangerous characters and trims whitespace
func (v *Validator) sanitizeInput(input string) string {
	// Trim whitespace
	input = strings.TrimSpace(input)

	// Remove null bytes and control characters
	input = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, input)

	// Limit length to prevent DoS
	if len(input) > 200 {
		input = input[:200]
	}

	return input
}

var errEmptyBody = errors.New("request body is required")
