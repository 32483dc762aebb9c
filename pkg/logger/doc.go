// Package logger builds *slog.Logger instances for the billing service.
//
// New accepts functional options selecting the output format, level and
// static attributes, and wraps the handler with LogHandlerDecorator so that
// request-scoped values (such as the request id) are attached to every
// record logged with a context.
//
// Attribute helpers in attr.go keep key names consistent across packages:
//
//	log.WarnContext(ctx, "skipped stale write",
//		logger.EventID(evt.ID),
//		logger.SubscriptionID(subID),
//		logger.Operation("upsert_subscription"),
//	)
//
// # Usage
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.AppEnv, cfg.ServiceName),
//		logger.WithLevelName(cfg.LogLevel),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
package logger
