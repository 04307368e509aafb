// Package store provides the SQLite-backed build ledger for fpt.
//
// The ledger records every component build that completed successfully:
// which repository and revision was checked out, the resolved commit, and a
// fingerprint of the build instructions. The build orchestrator consults it
// to skip build steps whose output is already on disk and to warn when an
// existing checkout was made from a different revision.
//
// Pass/fail results of test runs are never persisted.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: SQLite supports one writer at a time
package store
