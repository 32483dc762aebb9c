// Package pg bootstraps a PostgreSQL connection pool on top of pgx/v5.
//
// Connect opens a pool from Config and retries until the database answers a
// ping. Migrate runs goose migrations from an fs.FS, usually an embedded
// directory owned by the store package. Healthcheck returns a probe suitable
// for readiness endpoints.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
// IsDuplicateKeyError and IsNotFoundError classify driver errors.
package pg
