package generator

import "github.com/shopspring/decimal"

// Config drives the synthetic workload generator.
type Config struct {
	NumAccounts      int
	NumTransfers     int
	InitialDeposit   decimal.Decimal
	MaxTransfer      decimal.Decimal
	HotAccountChance float64
	HotAccounts      int
	Seed             int64
}

// DefaultConfig returns a workload small enough for a laptop that still
// produces heavy lock contention on the hot accounts.
func DefaultConfig() Config {
	return Config{
		NumAccounts:      200,
		NumTransfers:     20000,
		InitialDeposit:   decimal.NewFromInt(1000),
		MaxTransfer:      decimal.NewFromInt(250),
		HotAccountChance: 0.3,
		HotAccounts:      5,
		Seed:             42,
	}
}
