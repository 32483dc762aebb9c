// Package httpserver runs an http.Handler with graceful shutdown.
//
// Run listens on the configured address and serves until the context is
// cancelled, then drains in-flight requests for up to the shutdown timeout.
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server failed", "error", err)
//	}
//
// LivenessHandler and ReadinessHandler back the /healthz and /readyz probes.
package httpserver
