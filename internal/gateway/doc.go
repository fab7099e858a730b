// Package gateway runs the gqlguard admission gateway.
//
// A Gateway owns two listeners. The public listener serves GraphQL through
// the chain RequestID, Recovery, Logging, Tracing, BodyLimit, Admission and
// Proxy. The admin listener serves Prometheus metrics and the health probes.
//
//	bundle, err := gateway.BuildBundle(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	gw, err := gateway.New(cfg, bundle, gateway.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(context.Background())
//
// Reload swaps routes, limits, analyzers, upstreams and the cost budget
// without dropping in-flight requests.
package gateway
