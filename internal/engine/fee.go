package engine

import (
	"github.com/shopspring/decimal"

	"github.com/stockpit/portfolio-engine/internal/model"
)

var one = decimal.NewFromInt(1)

// buyCost returns the total cash debited for buying shares at price under
// the game's fee model, rounded to cents. The fee is charged on top of the
// gross amount.
func buyCost(g *model.Game, shares int64, price decimal.Decimal) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(shares))
	switch g.FeeType {
	case model.FeePercentage:
		return gross.Mul(one.Add(g.TransactionFee)).Round(2)
	default: // flat
		return gross.Add(g.TransactionFee).Round(2)
	}
}

// sellProceeds returns the net cash credited for selling shares at price
// under the game's fee model, rounded to cents. The fee comes out of the
// gross proceeds; a flat fee larger than the proceeds yields a negative
// credit.
func sellProceeds(g *model.Game, shares int64, price decimal.Decimal) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(shares))
	switch g.FeeType {
	case model.FeePercentage:
		return gross.Mul(one.Sub(g.TransactionFee)).Round(2)
	default:
		return gross.Sub(g.TransactionFee).Round(2)
	}
}

// feeCharged returns the fee portion alone for a trade of the given gross
// amount, rounded to cents.
func feeCharged(g *model.Game, shares int64, price decimal.Decimal) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(shares))
	if g.FeeType == model.FeePercentage {
		return gross.Abs().Mul(g.TransactionFee).Round(2)
	}
	return g.TransactionFee.Round(2)
}

// maxAffordableShares returns the largest whole number of shares the cash
// balance covers at price, fee included. Zero when even one share is out
// of reach.
func maxAffordableShares(g *model.Game, cash, price decimal.Decimal) int64 {
	if price.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	var n decimal.Decimal
	switch g.FeeType {
	case model.FeePercentage:
		n = cash.Div(price.Mul(one.Add(g.TransactionFee)))
	default:
		n = cash.Sub(g.TransactionFee).Div(price)
	}
	if n.IsNegative() {
		return 0
	}
	return n.Floor().IntPart()
}
