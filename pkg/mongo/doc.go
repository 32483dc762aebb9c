// Package mongo connects to MongoDB with the official v2 driver.
//
// New retries the initial connection and ping; Healthcheck returns a probe
// for readiness endpoints. Configuration comes from MONGODB_* environment
// variables, see Config.
//
//	var cfg mongo.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
package mongo
