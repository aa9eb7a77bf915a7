package paymentdb

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// BuildOrderStore wires an OrderStore from the Postgres DSN. If the DSN is
// empty or initialization fails, it falls back to the in-memory store so the
// service stays runnable in development. The returned cleanup closes any
// external resources.
func BuildOrderStore(ctx context.Context, dsn string, logf func(format string, args ...any)) (payment.OrderStore, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var store payment.OrderStore = payment.NewInMemoryOrderStore()

	if dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory orders: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			pg, err := NewStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory orders: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres orders enabled")
				store = pg
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	return store, cleanup
}
