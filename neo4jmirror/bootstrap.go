package neo4jmirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Labels of the nodes a Mirror writes; each is keyed by its id property.
var keyedLabels = []string{spotLabel, trackLabel}

const (
	spotLabel  = "Spot"
	trackLabel = "Track"
	headLabel  = "Head"
)

// BootstrapDatabase creates the necessary constraints and indexes for the
// database to be suitable for use by a Mirror.
//
// Index spots and tracks by id for optimised lookups, and constraint uniqueness
// by id to prevent duplicate nodes (caused by concurrent MERGEs).
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, l := range keyedLabels {
			// node keys also require the property to exist
			_, err := tx.Run(ctx, `
				CREATE CONSTRAINT IF NOT EXISTS
				FOR (n:`+l+`)
				REQUIRE n.id IS NODE KEY
			`, nil)
			if err != nil {
				return nil, fmt.Errorf("key constraint: label %v: %w", l, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("create constraints: %w", err)
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jmirror: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jmirror: database name must not be neo4j: reserved for system database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jmirror: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS WAIT
		`, map[string]any{
		"name": name,
	})
	return err
}
