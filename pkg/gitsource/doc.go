// Package gitsource is the Git collaborator: it answers "which SQL files
// changed between two revisions" and "what did this file contain at that
// revision" and nothing else.
//
// The implementation shells out to the git binary with a hard 30 second
// wall-clock cap per invocation. Refs are validated against a strict
// pattern before they reach a command line, file paths are confined to the
// repository, and file contents come back as untrusted bytes for the loader
// to parse. A deterministic in-memory source backs tests and local mode
// without a git checkout.
package gitsource
