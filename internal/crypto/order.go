package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/openclob/polymirror/internal/domain"
)

// zeroAddress is the open-order taker.
const zeroAddress = "0x0000000000000000000000000000000000000000"

var (
	micro    = decimal.New(1, 6) // 1e6, the venue's fixed-point base
	tickStep = decimal.New(1, -3)
	minTick  = decimal.New(1, -3)   // 0.001
	maxTick  = decimal.New(999, -3) // 0.999
)

// ClampTick rounds price down to the 0.001 grid and clamps it to
// [0.001, 0.999]. Closed markets trade at exactly 0 or 1, which the venue
// rejects for limit orders.
func ClampTick(price decimal.Decimal) decimal.Decimal {
	p := price.Div(tickStep).Floor().Mul(tickStep)
	if p.LessThan(minTick) {
		return minTick
	}
	if p.GreaterThan(maxTick) {
		return maxTick
	}
	return p
}

// OrderAmounts computes the fixed-point maker/taker amounts for a signed
// order. The size is floored to two decimals first and the stablecoin amount
// derived from the rounded size, which keeps stable/token on the price within
// venue tolerance:
//
//	roundedSize = floor(size * 100) / 100
//	tokenAmount = roundedSize * 1e6
//	stableAmount = floor(roundedSize * price * 1e4) / 1e4 * 1e6
func OrderAmounts(side domain.OrderSide, price, size decimal.Decimal) (makerAmount, takerAmount *big.Int) {
	roundedSize := size.RoundFloor(2)
	tokenAmount := roundedSize.Mul(micro).Round(0).BigInt()
	stableAmount := roundedSize.Mul(price).RoundFloor(4).Mul(micro).Round(0).BigInt()

	if side == domain.Buy {
		return stableAmount, tokenAmount
	}
	return tokenAmount, stableAmount
}

// BuildOrder assembles an unsigned OrderPayload for the given trade. The
// maker is always the operator wallet; when a distinct signer address is
// configured the order uses proxy signing (type 2), otherwise EOA (type 0).
// Price must already be tick-clamped.
func BuildOrder(creds domain.Credentials, tokenID string, side domain.OrderSide, price, size decimal.Decimal) (OrderPayload, error) {
	if tokenID == "" {
		return OrderPayload{}, fmt.Errorf("crypto/order: %w: empty token id", domain.ErrInvalidOrder)
	}
	if !price.IsPositive() || !size.IsPositive() {
		return OrderPayload{}, fmt.Errorf("crypto/order: %w: price and size must be positive", domain.ErrInvalidOrder)
	}

	salt, err := newSalt()
	if err != nil {
		return OrderPayload{}, fmt.Errorf("crypto/order: salt: %w", err)
	}

	makerAmount, takerAmount := OrderAmounts(side, price, size)

	sideInt := OrderSideBuy
	if side == domain.Sell {
		sideInt = OrderSideSell
	}

	sigType := SignatureTypeEOA
	signer := creds.WalletAddress
	if creds.SignerAddress != "" && creds.SignerAddress != creds.WalletAddress {
		sigType = SignatureTypeProxy
		signer = creds.SignerAddress
	}

	return OrderPayload{
		Salt:          salt.String(),
		Maker:         creds.WalletAddress,
		Signer:        signer,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: sigType,
	}, nil
}

// newSalt returns a random 31-bit unsigned integer.
func newSalt() (*big.Int, error) {
	return rand.Int(rand.Reader, big.NewInt(1<<31))
}
