// Package directory exposes shop users to the permission engine.
//
// The engine only needs to know which users hold a profile (impact
// analysis), how many users exist (coverage) and how to move a user between
// profiles. Each user holds at most one profile; analytics relies on this
// when it sums users_count across profiles to compute reach.
//
// Two implementations are provided: SQLDirectory over the users table and
// MemoryDirectory for tests and the in-memory server mode.
package directory
