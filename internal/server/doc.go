// Package server implements the kiln daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands from
// the kiln CLI. Each connection carries a single request-response exchange:
// the client sends a newline-delimited JSON envelope, the server dispatches
// the command, and writes the result back before closing the connection.
// Closing the connection early cancels a running build.
//
// The daemon owns the containerd connection and the layer cache, so
// consecutive builds of the same project reuse layers. An optional HTTP
// listener serves health, status, the cache index and Prometheus metrics.
//
// Example usage:
//
//	cfg, err := settings.Load("")
//	if err != nil {
//	    return err
//	}
//
//	srv, err := server.New(cfg)
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
