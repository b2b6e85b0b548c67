package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
	"github.com/ShupingR/tweener-portco-email-alert/internal/store"
)

// openStore opens the configured backend and applies migrations.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.DatabaseURL)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
