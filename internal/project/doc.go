// Package project implements the multi-tenant control plane: the durable
// project registry, the per-project database provisioner, and the resolver
// that maps an incoming request to a (project id, database name) pair.
//
// A Project row in the registry is the source of truth for one tenant. Its
// database_name points at a physically isolated Postgres database created by
// the Provisioner. The registry row and the physical database may drift apart
// (a crash mid-provision, an out-of-band DROP DATABASE); the resolver detects
// the drift through the existence verifier and re-provisions under the same
// name, so orphaned rows self-heal instead of erroring.
//
// Resolution runs a strict 4-tier fallback chain:
//
//  1. explicit project id from the request
//  2. a .codexd.json config file found above the session's working directory
//  3. the external workspace integration's active project
//  4. the fixed default project
//
// Failures in tiers 2 and 3 fall through silently; tier 1, when present,
// never falls through, and tier 4 always succeeds.
package project
