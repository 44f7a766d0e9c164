package phasequeue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/summary"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// Handler failure reasons recorded on the unit.
const (
	reasonNoActions    = "no actions"
	reasonNoRegistry   = "no action registry configured"
	reasonNoRunner     = "no runner configured"
	reasonNoActionsRan = "no actions executed"
)

// handler returns the executor handler for a queued unit.
func (m *Manager) handler(item QueuedWorkUnit) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return m.execute(ctx, item)
	}
}

// execute runs one unit to a terminal status, persists its summary and
// notifies the lifecycle hook. A unit the hook refuses to start is failed
// without either. The returned error reflects the unit's
// outcome so the engine's task log matches it.
func (m *Manager) execute(ctx context.Context, item QueuedWorkUnit) error {
	unit := item.Unit
	ctx = logging.WithPhase(logging.WithWorkUnitID(ctx, unit.ID), string(item.TargetPhase))
	logger := m.logger.With(logging.ContextFields(ctx)...)

	if err := unit.Start(); err != nil {
		logger.Warn("cannot start work unit", zap.Error(err))
		return err
	}
	lifecycle := m.currentLifecycle()
	if lifecycle != nil {
		if err := lifecycle.UnitStarted(ctx, unit, item.TargetPhase); err != nil {
			// A refused unit never ran: no summary and no finish hook.
			_ = unit.Fail(err.Error())
			logger.Warn("work unit refused by scheduler", zap.Error(err))
			return err
		}
	}

	var reason string
	switch {
	case len(unit.ActionSequence) > 0:
		reason = m.runSequence(ctx, unit, logger)
	case unit.RunnerKey != "":
		reason = m.runRunner(ctx, unit, logger)
	default:
		reason = reasonNoActions
	}

	if reason == "" && unit.Succeeded() {
		_ = unit.Complete(resultText(unit))
	} else {
		if reason == "" {
			reason = failureText(unit)
		}
		_ = unit.Fail(reason)
	}
	m.finish(ctx, item, lifecycle, logger)

	if unit.Status == workunit.StatusFailed {
		return errors.New(unit.Error)
	}
	return nil
}

func (m *Manager) finish(ctx context.Context, item QueuedWorkUnit, lifecycle Lifecycle, logger *zap.Logger) {
	unit := item.Unit
	logger.Info("work unit finished",
		zap.String("status", string(unit.Status)),
		zap.Int("actions", len(unit.ActionResults)),
		zap.Duration("duration", unit.Duration()),
	)
	if m.summaries != nil {
		s := summary.FromWorkUnit(unit, item.TargetPhase, m.clock())
		if err := m.summaries.Save(ctx, s); err != nil {
			logger.Error("failed to save work summary", zap.String("slug", s.Slug), zap.Error(err))
		}
	}
	if lifecycle != nil {
		lifecycle.UnitFinished(ctx, unit, item.TargetPhase)
	}
}

// runSequence executes the unit's actions in order. It returns a failure
// reason when the sequence could not run at all.
func (m *Manager) runSequence(ctx context.Context, unit *workunit.WorkUnit, logger *zap.Logger) string {
	if m.actions == nil {
		return reasonNoRegistry
	}
	for _, actionID := range unit.ActionSequence {
		if err := ctx.Err(); err != nil {
			logger.Warn("action sequence interrupted", zap.Error(err))
			break
		}
		req := ActionRequest{
			ActionID:   actionID,
			Duration:   unit.EstimatedDuration,
			Focus:      unit.Focus,
			WorkUnitID: unit.ID,
		}
		res, err := m.actions.Execute(ctx, req)
		if err != nil {
			res = workunit.ActionResult{Success: false, Message: err.Error()}
		}
		if res.ActionID == "" {
			res.ActionID = actionID
		}
		unit.RecordAction(res)
		logger.Debug("action executed",
			zap.String("action_id", actionID),
			zap.Bool("success", res.Success),
		)
		if res.AbortSequence() {
			logger.Info("action requested sequence abort", zap.String("action_id", actionID))
			break
		}
	}
	return ""
}

func (m *Manager) runRunner(ctx context.Context, unit *workunit.WorkUnit, logger *zap.Logger) string {
	if m.runner == nil {
		return reasonNoRunner
	}
	res, err := m.runner.Run(ctx, unit.RunnerKey, unit)
	if err != nil {
		logger.Warn("runner failed", zap.String("runner_key", unit.RunnerKey), zap.Error(err))
		res = workunit.ActionResult{Success: false, Message: err.Error()}
	}
	if res.ActionID == "" {
		res.ActionID = unit.RunnerKey
	}
	unit.RecordAction(res)
	return ""
}

func resultText(unit *workunit.WorkUnit) string {
	last := unit.ActionResults[len(unit.ActionResults)-1]
	if last.Message != "" {
		return last.Message
	}
	return fmt.Sprintf("completed %d actions", len(unit.ActionResults))
}

func failureText(unit *workunit.WorkUnit) string {
	for _, r := range unit.ActionResults {
		if !r.Success {
			if r.Message != "" {
				return fmt.Sprintf("action %s failed: %s", r.ActionID, r.Message)
			}
			return fmt.Sprintf("action %s failed", r.ActionID)
		}
	}
	return reasonNoActionsRan
}
