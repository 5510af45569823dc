// Package credential owns the only code path allowed to persist or erase a
// credential pair.
//
// Two areas exist: a session-scoped area that lives as long as the process and a
// durable area (sealed file, Redis or Postgres) that survives restarts. A pair
// lives in exactly one area at a time. Writes also refresh a companion
// "access_token" cookie used for route gating by dashboard pages.
//
// Every operation is a silent no-op when its backend is absent, so the store can
// be used unconfigured in tests and tooling.
package credential
