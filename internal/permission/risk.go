package permission

// RiskConfig defines static order limits.
type RiskConfig struct {
	KillSwitch           bool  `yaml:"kill_switch"`
	MaxOrderQty          int64 `yaml:"max_order_qty"`
	MaxPriceDeviationBps int64 `yaml:"max_price_deviation_bps"`
}

// Risk checks an order's implied price against the reference price.
type Risk struct {
	cfg RiskConfig
}

func NewRisk(cfg RiskConfig) *Risk {
	return &Risk{cfg: cfg}
}

func (r *Risk) ApproveMake(price, qty, refPrice int64) bool {
	return r.evaluate(price, qty, refPrice)
}

func (r *Risk) ApproveTake(price, qty, refPrice int64) bool {
	return r.evaluate(price, qty, refPrice)
}

func (r *Risk) evaluate(price, qty, refPrice int64) bool {
	if r.cfg.KillSwitch {
		return false
	}
	if price <= 0 || qty <= 0 {
		return false
	}
	if r.cfg.MaxOrderQty > 0 && qty > r.cfg.MaxOrderQty {
		return false
	}
	if r.cfg.MaxPriceDeviationBps > 0 {
		if refPrice <= 0 {
			return false
		}
		if exceedsDeviation(absInt64(price-refPrice), refPrice, r.cfg.MaxPriceDeviationBps) {
			return false
		}
	}
	return true
}

// exceedsDeviation reports diff/ref > bps/10000 without overflowing.
func exceedsDeviation(diff, ref, bps int64) bool {
	// diff*10000 > bps*ref, compared by quotient and remainder
	limitWhole := ref / 10_000 * bps
	limitFrac := ref % 10_000 * bps / 10_000
	return diff > limitWhole+limitFrac
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
