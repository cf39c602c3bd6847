// Package server runs the control-plane HTTP server.
//
// Architecture:
//   - RouteProvider: contributes routes to the protected router group
//   - Manager: owns the gin engine, shared middleware and the http.Server
//
// Public routes (/health, /status and the metrics path) are registered by the
// Manager itself. Provider routes sit behind JWT auth and rate limiting when
// those are configured.
//
// Usage:
//
//	mgr := server.NewManager(cfg, collector, logger)
//	mgr.SetStatusHandler(handlers.Status)
//	mgr.AddProvider(server.NewControlProvider(handlers))
//	if err := mgr.Start(ctx); err != nil { ... }
//	defer mgr.Shutdown(ctx)
package server
