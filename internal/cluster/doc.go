// Package cluster holds the wire contract shared by the registry, the workers
// and the producers, plus a small HTTP client for the registry surface.
//
// # Topology
//
// A single registry tracks a pool of stateless workers. Workers announce
// themselves, producers ask the registry for a target and then push their
// payload straight to that worker:
//
//	           ┌────────────┐
//	 register  │  Registry  │  target
//	 update ──▶│            │◀── producer
//	           └─────┬──────┘
//	                 │ GET /ping
//	      ┌──────────┼──────────┐
//	      ▼          ▼          ▼
//	┌─────────┐ ┌─────────┐ ┌─────────┐
//	│ worker1 │ │ worker2 │ │ worker3 │◀── POST /convert?filename=...
//	└─────────┘ └─────────┘ └─────────┘
//
// # Wire Format
//
// Every response is a JSON object with a "result" field set to "success" or
// "error". Error responses carry a human readable "message". The registry's
// /services route is the only exception and returns a plain name to address
// mapping.
//
// Endpoint addresses may be full URLs ("http://worker1:7000") or bare
// "host:port" pairs; BaseURL normalizes both.
//
// # Client
//
// Client wraps a resty client bound to the registry base URL:
//
//	c := cluster.NewClient("registry:5000", nil)
//	if err := c.Register(ctx, "worker1", "http://worker1:7000"); err != nil {
//	    return err
//	}
//	target, err := c.Target(ctx)
//	if errors.Is(err, cluster.ErrNotAvailable) {
//	    // nobody registered yet, poll again later
//	}
//
// Non-2xx answers and negative results surface as *StatusError.
package cluster
