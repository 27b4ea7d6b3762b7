// Package scheduler runs the background poll loop: every interval it
// walks the tenants, runs their due schedules one at a time, and prunes
// expired token revocations. Failures are logged per item and never stop
// the loop.
package scheduler
