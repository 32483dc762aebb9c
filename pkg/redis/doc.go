// Package redis wraps go-redis with a retrying Connect, a readiness probe
// and EventLedger, a shared store of processed provider event ids.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	ledger := redis.NewEventLedger(client, cfg.KeyPrefix, 72*time.Hour)
//
// Errors wrap the driver error with a package sentinel via errors.Join.
package redis
