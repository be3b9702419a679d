// Package coordinator implements the registry service: the single authority
// that tracks live workers, hands out dispatch targets round robin, and
// evicts workers that stop answering liveness probes.
//
// # Overview
//
// The registry owns one membership table for the lifetime of the process.
// Workers join with register, re-announce with update and leave with
// unregister. Producers call Target to obtain the next worker and then send
// their payload to it directly; the registry never relays payloads.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│             REGISTRY                │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   Registry                   │   │
//	│  │   - Register / Update        │   │
//	│  │   - Unregister               │   │
//	│  │   - Target (round robin)     │   │
//	│  │   - Services snapshot        │   │
//	│  └──────────────┬───────────────┘   │
//	│                 │ owns              │
//	│  ┌──────────────▼───────────────┐   │
//	│  │   membership.Table           │   │
//	│  │   - ordered name → address   │   │
//	│  │   - dispatch cursor          │   │
//	│  └──────────────▲───────────────┘   │
//	│                 │ List / Remove     │
//	│  ┌──────────────┴───────────────┐   │
//	│  │   HealthMonitor              │   │
//	│  │   - ticker driven probes     │   │
//	│  │   - per-probe timeout        │   │
//	│  │   - eviction threshold       │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Errors
//
// Register, Update and Unregister fail only with ErrInvalidRequest, for a
// payload that lacks a name or address. Target fails only with
// ErrNotAvailable, which is an ordinary answer for an empty table. Probe
// failures (ProbeError) are consumed by eviction and never reach callers.
//
// # Health Monitoring
//
// Each tick copies the table, releases the lock and probes every endpoint
// with GET /ping under its own timeout. A probe fails on timeout,
// connection error, non-2xx status, or a body other than
// {"result":"success","ping":"pong"}. After the configured number of
// consecutive failures (one by default) the endpoint is removed with cause
// health-check-failed.
//
// # Fairness
//
// Round robin is strict only while the table does not change between
// Target calls. Evictions and registrations shift positions under the
// cursor, so an endpoint may be skipped or served twice within a cycle.
//
// # HTTP
//
// NewHandler serves the registry as JSON over HTTP. Invalid payloads answer
// 400 and an empty table answers /target with 503 and
// {"result":"error","message":"Not available service"}.
//
// # Metrics
//
// Metrics exposes the number of registered endpoints, evictions by cause,
// target requests by result and probe latency.
package coordinator
