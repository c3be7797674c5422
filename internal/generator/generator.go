package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/ledgercore/internal/domain"
)

// AccountSeed describes one account to open and fund before the transfers run.
type AccountSeed struct {
	OwnerID string          `json:"ownerId"`
	Deposit decimal.Decimal `json:"deposit"`
}

// TransferSpec moves Amount between two seeded accounts, addressed by index
// because account numbers are only known once the accounts are opened.
type TransferSpec struct {
	From   int             `json:"from"`
	To     int             `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// Workload contains the generated accounts and transfers.
type Workload struct {
	Accounts  []AccountSeed  `json:"accounts"`
	Transfers []TransferSpec `json:"transfers"`
}

// TotalDeposits is the money the workload moves out of the vault.
func (w Workload) TotalDeposits() decimal.Decimal {
	total := decimal.Zero
	for _, acc := range w.Accounts {
		total = total.Add(acc.Deposit)
	}
	return total
}

// Generator produces synthetic transfer workloads.
type Generator struct {
	cfg  Config
	rand *rand.Rand
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	defaults := DefaultConfig()
	if cfg.NumAccounts < 2 {
		cfg.NumAccounts = defaults.NumAccounts
	}
	if cfg.NumTransfers <= 0 {
		cfg.NumTransfers = defaults.NumTransfers
	}
	if !cfg.InitialDeposit.IsPositive() {
		cfg.InitialDeposit = defaults.InitialDeposit
	}
	if !cfg.MaxTransfer.IsPositive() {
		cfg.MaxTransfer = defaults.MaxTransfer
	}
	if cfg.MaxTransfer.GreaterThan(domain.MaxAmount) {
		cfg.MaxTransfer = domain.MaxAmount
	}
	if cfg.HotAccounts <= 0 || cfg.HotAccounts > cfg.NumAccounts {
		cfg.HotAccounts = min(defaults.HotAccounts, cfg.NumAccounts)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Generate synthesises accounts and transfers. It respects context cancellation.
// Some transfers are expected to fail with insufficient funds.
func (g *Generator) Generate(ctx context.Context) (Workload, error) {
	accounts := make([]AccountSeed, g.cfg.NumAccounts)
	for i := range accounts {
		accounts[i] = AccountSeed{
			OwnerID: fmt.Sprintf("OWN-%05d", i+1),
			Deposit: g.cfg.InitialDeposit,
		}
	}

	maxMinor, err := domain.ToMinorUnits(g.cfg.MaxTransfer)
	if err != nil {
		return Workload{}, err
	}
	if maxMinor < 1 {
		maxMinor = 1
	}
	transfers := make([]TransferSpec, g.cfg.NumTransfers)
	for i := range transfers {
		if err := ctx.Err(); err != nil {
			return Workload{}, err
		}

		from := g.pickAccount()
		to := g.pickAccount()
		if from == to {
			to = (to + 1) % g.cfg.NumAccounts
		}
		transfers[i] = TransferSpec{
			From:   from,
			To:     to,
			Amount: domain.FromMinorUnits(1 + g.rand.Int63n(maxMinor)),
		}
	}

	return Workload{Accounts: accounts, Transfers: transfers}, nil
}

// pickAccount favours the first HotAccounts indices with HotAccountChance.
func (g *Generator) pickAccount() int {
	if g.rand.Float64() < g.cfg.HotAccountChance {
		return g.rand.Intn(g.cfg.HotAccounts)
	}
	return g.rand.Intn(g.cfg.NumAccounts)
}
