// Package accountnumber issues 16-digit, dash-grouped account numbers.
package accountnumber

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/vanshika/ledgercore/internal/domain"
)

// DefaultMaxAttempts bounds the collision redraw loop.
const DefaultMaxAttempts = 1000

var (
	digitSpace = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	pattern    = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{4}$`)
)

// Lookup is the read side of the account store used to probe for collisions.
type Lookup interface {
	Get(ctx context.Context, number string) (domain.Account, error)
}

// Generator draws uniformly random numbers and rejects ones already issued.
type Generator struct {
	lookup      Lookup
	maxAttempts int
	reserved    map[string]struct{}
	draw        func() (string, error)
}

// Option customises a Generator.
type Option func(*Generator)

// WithMaxAttempts sets the redraw bound; values below 1 keep the default.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithReserved excludes numbers from ever being issued (the vault, test fixtures).
func WithReserved(numbers ...string) Option {
	return func(g *Generator) {
		for _, n := range numbers {
			g.reserved[n] = struct{}{}
		}
	}
}

// WithDraw replaces the random source. Used by tests to force collisions.
func WithDraw(draw func() (string, error)) Option {
	return func(g *Generator) {
		if draw != nil {
			g.draw = draw
		}
	}
}

// New constructs a Generator probing lookup for uniqueness.
func New(lookup Lookup, opts ...Option) *Generator {
	g := &Generator{
		lookup:      lookup,
		maxAttempts: DefaultMaxAttempts,
		reserved:    map[string]struct{}{domain.VaultAccountNumber: {}},
		draw:        randomNumber,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxAttempts returns the configured redraw bound.
func (g *Generator) MaxAttempts() int {
	return g.maxAttempts
}

// Generate returns a number not present in the store at probe time.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("draw account number: %w", err)
		}
		if _, reserved := g.reserved[candidate]; reserved {
			continue
		}

		_, err = g.lookup.Get(ctx, candidate)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return candidate, nil
		case err != nil:
			return "", fmt.Errorf("probe account number: %w", err)
		}
	}
	return "", fmt.Errorf("%w after %d attempts", domain.ErrGenerationExhausted, g.maxAttempts)
}

// Valid reports whether s has the dddd-dddd-dddd-dddd shape.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

func randomNumber() (string, error) {
	n, err := rand.Int(rand.Reader, digitSpace)
	if err != nil {
		return "", err
	}
	return format(fmt.Sprintf("%016d", n)), nil
}

func format(digits string) string {
	var b strings.Builder
	b.Grow(19)
	for i := 0; i < len(digits); i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(digits[i : i+4])
	}
	return b.String()
}
