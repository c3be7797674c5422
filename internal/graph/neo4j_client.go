package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewNeo4jClient connects the account store to Neo4j over Bolt. Every query
// runs as a driver-managed transaction, which the driver retries on transient
// failures for up to Options.MaxRetryTime. Balance updates rely on that: two
// transfers touching the same accounts in opposite order can deadlock inside
// Neo4j, and one side is rolled back and replayed.
func NewNeo4jClient(ctx context.Context, opts Options) (Client, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, authToken(opts), func(c *neo4j.Config) {
		if opts.MaxConnections > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnections
		}
		if opts.MaxRetryTime > 0 {
			c.MaxTransactionRetryTime = opts.MaxRetryTime
		}
		if opts.AcquireTimeout > 0 {
			c.ConnectionAcquisitionTimeout = opts.AcquireTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open account graph %s: %w", opts.URI, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("reach account graph %s: %w", opts.URI, err)
	}

	return &neo4jClient{driver: driver, database: opts.Database}, nil
}

func authToken(opts Options) neo4j.AuthToken {
	if opts.Username == "" {
		return neo4j.NoAuth()
	}
	return neo4j.BasicAuth(opts.Username, opts.Password, "")
}

type neo4jClient struct {
	driver   neo4j.DriverWithContext
	database string
}

// ExecuteWrite routes cypher to the cluster leader. A replayed transaction
// runs the whole statement again, so balance and append statements must be
// idempotent or conditional on current state.
func (c *neo4jClient) ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return c.query(ctx, cypher, params, neo4j.ExecuteQueryWithWritersRouting())
}

// ExecuteRead routes cypher to any reader, so lookups may lag a write made
// through another connection.
func (c *neo4jClient) ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return c.query(ctx, cypher, params, neo4j.ExecuteQueryWithReadersRouting())
}

func (c *neo4jClient) query(ctx context.Context, cypher string, params map[string]any, routing neo4j.ExecuteQueryConfigurationOption) (Result, error) {
	configurers := []neo4j.ExecuteQueryConfigurationOption{routing}
	if c.database != "" {
		configurers = append(configurers, neo4j.ExecuteQueryWithDatabase(c.database))
	}

	eager, err := neo4j.ExecuteQuery(ctx, c.driver, cypher, params, neo4j.EagerResultTransformer, configurers...)
	if err != nil {
		return Result{}, err
	}

	records := make([]Record, 0, len(eager.Records))
	for _, rec := range eager.Records {
		records = append(records, toRecord(rec))
	}
	return Result{Records: records}, nil
}

func toRecord(rec *neo4j.Record) Record {
	out := make(Record, len(rec.Keys))
	for i, key := range rec.Keys {
		out[key] = rec.Values[i]
	}
	return out
}

func (c *neo4jClient) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
