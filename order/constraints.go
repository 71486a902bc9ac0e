package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PairConstraints 描述交易对的步长与名义限制。
type PairConstraints struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinVolume   decimal.Decimal
	MaxVolume   decimal.Decimal
	MinNotional decimal.Decimal
}

// Validate 检查订单价格/数量是否符合精度与最小名义。
func (c PairConstraints) Validate(price, volume decimal.Decimal) error {
	if c.TickSize.Sign() > 0 && !price.Mod(c.TickSize).IsZero() {
		return fmt.Errorf("price %s not aligned to tickSize %s", price, c.TickSize)
	}
	if c.StepSize.Sign() > 0 && !volume.Mod(c.StepSize).IsZero() {
		return fmt.Errorf("volume %s not aligned to stepSize %s", volume, c.StepSize)
	}
	if c.MinVolume.Sign() > 0 && volume.LessThan(c.MinVolume) {
		return fmt.Errorf("volume %s < minVolume %s", volume, c.MinVolume)
	}
	if c.MaxVolume.Sign() > 0 && volume.GreaterThan(c.MaxVolume) {
		return fmt.Errorf("volume %s > maxVolume %s", volume, c.MaxVolume)
	}
	if c.MinNotional.Sign() > 0 && price.Mul(volume).LessThan(c.MinNotional) {
		return fmt.Errorf("notional %s < minNotional %s", price.Mul(volume), c.MinNotional)
	}
	return nil
}
