package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanshika/ledgercore/internal/graph"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// HealthFunc adapts a function to HealthService.
type HealthFunc func(ctx context.Context) error

// Probe implements the HealthService interface.
func (f HealthFunc) Probe(ctx context.Context) error { return f(ctx) }

// GraphHealthService verifies graph connectivity as part of health checks.
type GraphHealthService struct {
	Client graph.Client
}

// Probe implements the HealthService interface.
func (s GraphHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.VerifyConnectivity(ctx)
}

// Pinger is satisfied by the audit database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingHealthService probes a database connection.
type PingHealthService struct {
	Name string
	DB   Pinger
}

// Probe implements the HealthService interface.
func (s PingHealthService) Probe(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	if err := s.DB.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	return nil
}

// HealthChecks runs every probe and joins the failures.
type HealthChecks []HealthService

// Probe implements the HealthService interface.
func (c HealthChecks) Probe(ctx context.Context) error {
	var errs []error
	for _, check := range c {
		if check == nil {
			continue
		}
		if err := check.Probe(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
