// Package scheduler selects the alert definitions due for evaluation
// on a scan tick and groups them by datasource, grounded on the
// teacher's monitoring.AlertManager.evaluateRule due-check
// (internal/monitoring/alerts.go).
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/project-sentinel/pysentinel/internal/sentinel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/datasource"
	"github.com/project-sentinel/pysentinel/internal/sentinel/ledger"
)

// Scheduler computes the due alert definitions for a tick, grouped by
// datasource name (spec.md §4.5).
type Scheduler struct {
	definitions []*sentinel.AlertDefinition
	ledger      ledger.RunLedger
	registry    *datasource.Registry
	log         *zap.Logger

	warnedUnknown map[string]bool
}

// New builds a Scheduler over a fixed set of alert definitions.
func New(definitions []*sentinel.AlertDefinition, runLedger ledger.RunLedger, registry *datasource.Registry, log *zap.Logger) *Scheduler {
	return &Scheduler{
		definitions:   definitions,
		ledger:        runLedger,
		registry:      registry,
		log:           log,
		warnedUnknown: make(map[string]bool),
	}
}

// DueGroups partitions the alert definitions due at now by
// datasource_name, skipping alerts bound to an unknown or currently
// disabled datasource.
func (s *Scheduler) DueGroups(ctx context.Context, now time.Time) map[string][]*sentinel.AlertDefinition {
	groups := make(map[string][]*sentinel.AlertDefinition)

	for _, def := range s.definitions {
		if !def.Enabled {
			continue
		}
		if !s.isDue(ctx, def, now) {
			continue
		}

		_, state, ok := s.registry.Get(def.DatasourceName)
		if !ok {
			if !s.warnedUnknown[def.DatasourceName] {
				s.log.Warn("alert references unknown datasource",
					zap.String("alert", def.Name), zap.String("datasource", def.DatasourceName))
				s.warnedUnknown[def.DatasourceName] = true
			}
			continue
		}
		if !state.IsEnabled() {
			continue
		}

		groups[def.DatasourceName] = append(groups[def.DatasourceName], def)
	}

	return groups
}

func (s *Scheduler) isDue(ctx context.Context, def *sentinel.AlertDefinition, now time.Time) bool {
	if def.IntervalSeconds == 0 {
		return true
	}

	lastRun, found, err := s.ledger.GetLastRun(ctx, def.Name)
	if err != nil {
		s.log.Warn("failed to read last run, treating alert as due",
			zap.String("alert", def.Name), zap.Error(err))
		return true
	}
	if !found {
		return true
	}

	return now.Sub(lastRun) >= time.Duration(def.IntervalSeconds)*time.Second
}
