package database

import (
	"context"
	"fmt"
	"strings"
)

// RequiredTables are the relations the engine reads or writes.
var RequiredTables = []string{"population_baselines", "prediction_audit"}

// VerifySchema checks that every required table exists. It is run after migrations so a
// misconfigured migrations path fails at startup instead of on the first baseline lookup.
func (db *DB) VerifySchema(ctx context.Context) error {
	var missing []string
	for _, table := range RequiredTables {
		var exists bool
		err := db.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("database schema incomplete, missing tables: %s", strings.Join(missing, ", "))
	}
	return nil
}
