package database

import (
	"fmt"
	"strings"
)

// Strategy names how a store answers nearest-neighbor queries.
type Strategy string

const (
	// StrategyScan compares the query against every stored embedding.
	StrategyScan Strategy = "scan"
	// StrategyPgvector queries the pgvector HNSW index in PostgreSQL.
	StrategyPgvector Strategy = "pgvector"
	// StrategyHNSW queries an in-process HNSW graph.
	StrategyHNSW Strategy = "hnsw"
)

// Strategies lists all supported strategies.
var Strategies = []Strategy{StrategyScan, StrategyPgvector, StrategyHNSW}

// ParseStrategy parses a strategy name (case-insensitive).
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Strategies {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown match strategy %q (want scan, pgvector or hnsw)", s)
}
