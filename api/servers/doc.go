/*
Package servers implements the HTTP server of the Cloq control plane.

It handles configuration, lifecycle management and routing. Domain handlers
such as artifacthandler.Handler mount their routes through RouteRegistrar;
the server adds operational endpoints around them:

	GET /livez    liveness
	GET /readyz   readiness, 503 while draining
	GET /drain    mark not ready so load balancers stop routing
	GET /undrain  mark ready again
	/debug/*      pprof, when enabled

Every request passes through the structured access logger. Prometheus
metrics are served on a separate listener when a metrics address is set.

# Server Lifecycle

	srv, err := servers.New(cfg, handler)
	srv.RunInBackground()
	// wait for a signal
	srv.Shutdown()

Shutdown first drains for the configured duration, then gracefully stops the
API and metrics listeners.
*/
package servers
