/*
Package log provides structured logging for IronLayer using zerolog.

The package wraps zerolog behind a small surface: a global logger
initialized once via Init, context helpers that stamp common fields,
and simple level functions for one-line messages. All output is JSON
in production and an optional console format in development.

# Usage

Initializing the logger:

	import "github.com/ironlayer/ironlayer/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Component loggers:

	plannerLog := log.WithComponent("planner")
	plannerLog.Info().Str("plan_id", planID).Msg("plan generated")

Context helpers stamp the fields the rest of the codebase queries on.
Bind the child logger to a variable before calling a level method; the
level methods have pointer receivers and cannot be chained directly off
the helper's return value:

	tenantLog := log.WithTenant("t-acme")
	tenantLog.Warn().Msg("quota exhausted")

	runLog := log.WithRunID(runID)
	runLog.Error().Err(err).Msg("step failed")

Simple logging:

	log.Info("daemon starting")
	log.Fatal("cannot open state store") // exits the process

# Conventions

Use structured fields (.Str, .Int, .Err) rather than formatting values
into the message. Never log secrets, tokens, or raw credentials; seal
or redact before logging. Info is the production level; Debug is for
development only.
*/
package log
