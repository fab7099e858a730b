// Package health serves the liveness and readiness probes of the admin
// listener.
//
// Liveness (/healthz) reports that the process is up. Readiness (/readyz)
// runs the registered checks and fails while the gateway is starting,
// draining, or when any check reports unhealthy:
//
//	checker := health.NewChecker(version, logger)
//	checker.RegisterCheck("cache", health.CacheCheck(backend))
//	checker.RegisterRoutes(mux)
//	checker.SetReady(true)
package health
