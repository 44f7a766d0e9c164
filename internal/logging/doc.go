// Package logging builds the daemon's zap logger.
//
// The logger writes JSON (or console) lines to stdout and can mirror them
// to an OpenTelemetry log provider. Secret-looking keys and values are
// redacted by the encoder, and levels below error are sampled.
//
// Context-aware methods pull correlation fields out of the context:
//
//	ctx = logging.WithWorkUnitID(ctx, unit.ID)
//	ctx = logging.WithPhase(ctx, "morning")
//	logger.Info(ctx, "work started")
//
// produces
//
//	{"level":"info","msg":"work started","work_unit.id":"...","day.phase":"morning"}
//
// Components that take a plain *zap.Logger can add the same fields with
// ContextFields(ctx).
package logging
