// Package server wires configuration, logging, metrics, the session
// manager and the HTTP API into one process.
//
// Server Lifecycle:
//  1. Load configuration (defaults, file, environment, flags)
//  2. Initialize logger (production or development)
//  3. Pick the engine launcher (sandbox or chrome)
//  4. Create the session manager with the configured defaults
//  5. Setup HTTP routes and middleware
//  6. Serve until the context is cancelled
//  7. Drain requests and close every session
//
// Example Usage:
//
//	cfg, _ := config.Load("")
//	srv, err := server.NewServer(cfg, nil)
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx)
package server
