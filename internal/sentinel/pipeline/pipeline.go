// Package pipeline implements the violation pipeline (spec.md §4.7):
// cooldown suppression, active-violation-set maintenance, bounded
// history, callback dispatch, and channel fan-out. Grounded on the
// teacher's monitoring.AlertManager.evaluateRule alert lifecycle
// (internal/monitoring/alerts.go).
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	serrors "github.com/project-sentinel/pysentinel/internal/errors"
	"github.com/project-sentinel/pysentinel/internal/monitoring"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/channel"
	"github.com/project-sentinel/pysentinel/internal/telemetry"
)

// Callback is invoked once per violation that survives the cooldown
// gate. An error return or a panic is logged; neither stops the chain
// (spec.md §4.7 step 4).
type Callback func(v *sentinel.Violation) error

// Pipeline owns the active-violation set, bounded history, and
// per-key cooldown timestamps, and fans surviving violations out to
// alert channels.
type Pipeline struct {
	mu sync.RWMutex

	cooldown   time.Duration
	maxHistory int

	active    map[string]*sentinel.Violation
	history   []*sentinel.Violation
	appended  int64 // monotonic count of history entries ever appended, unaffected by eviction
	cooldowns map[string]time.Time

	definitions map[string]*sentinel.AlertDefinition
	channels    *channel.Registry
	callbacks   []Callback

	warnedChannel map[string]bool

	prom   *monitoring.ScannerMetrics
	tracer *telemetry.Manager
	log    *zap.Logger
}

// Config bundles the pipeline's static dependencies.
type Config struct {
	CooldownMinutes int
	MaxHistory      int
	Definitions     []*sentinel.AlertDefinition
	Channels        *channel.Registry
	Metrics         *monitoring.ScannerMetrics
	Tracer          *telemetry.Manager
	Logger          *zap.Logger
}

// New builds a Pipeline from its static configuration.
func New(cfg Config) *Pipeline {
	defsByName := make(map[string]*sentinel.AlertDefinition, len(cfg.Definitions))
	for _, def := range cfg.Definitions {
		defsByName[def.Name] = def
	}

	return &Pipeline{
		cooldown:      time.Duration(cfg.CooldownMinutes) * time.Minute,
		maxHistory:    cfg.MaxHistory,
		active:        make(map[string]*sentinel.Violation),
		cooldowns:     make(map[string]time.Time),
		definitions:   defsByName,
		channels:      cfg.Channels,
		warnedChannel: make(map[string]bool),
		prom:          cfg.Metrics,
		tracer:        cfg.Tracer,
		log:           cfg.Logger,
	}
}

// AddCallback registers a synchronous violation callback.
func (p *Pipeline) AddCallback(cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// Recover removes any active entry for key, implementing executor
// step §4.6(e) when an alert's threshold no longer violates.
func (p *Pipeline) Recover(key string) {
	p.mu.Lock()
	delete(p.active, key)
	activeCount := len(p.active)
	p.mu.Unlock()

	if p.prom != nil {
		p.prom.ViolationsActive.Set(float64(activeCount))
	}
}

// Submit runs v through the cooldown gate, active-set update,
// bounded history, callbacks, and channel fan-out (spec.md §4.7).
// It returns true if the violation passed the cooldown gate.
func (p *Pipeline) Submit(ctx context.Context, v *sentinel.Violation) bool {
	key := v.ActiveKey()
	now := v.Timestamp

	p.mu.Lock()
	if last, ok := p.cooldowns[key]; ok && now.Sub(last) < p.cooldown {
		p.mu.Unlock()
		if p.prom != nil {
			p.prom.ViolationsSuppress.WithLabelValues(v.AlertName).Inc()
		}
		return false
	}
	p.cooldowns[key] = now
	p.active[key] = v
	p.history = append(p.history, v)
	p.appended++
	if p.maxHistory > 0 && len(p.history) > p.maxHistory {
		p.history = p.history[len(p.history)-p.maxHistory:]
	}
	callbacks := append([]Callback(nil), p.callbacks...)
	def, hasDef := p.definitions[v.AlertName]
	activeCount := len(p.active)
	p.mu.Unlock()

	if p.prom != nil {
		p.prom.ViolationsTotal.WithLabelValues(v.AlertName, string(v.Severity)).Inc()
		p.prom.ViolationsActive.Set(float64(activeCount))
	}

	for _, cb := range callbacks {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("callback panicked: %v", r)
				}
			}()
			return cb(v)
		}()
		if err != nil {
			p.log.Warn("violation callback failed", zap.Error(serrors.NewCallbackError(err)))
		}
	}

	if !hasDef {
		return true
	}
	p.fanOut(ctx, def, v)
	return true
}

func (p *Pipeline) fanOut(ctx context.Context, def *sentinel.AlertDefinition, v *sentinel.Violation) {
	for _, name := range def.AlertChannels {
		ch, ok := p.channels.Get(name)
		if !ok {
			p.mu.Lock()
			warned := p.warnedChannel[name]
			p.warnedChannel[name] = true
			p.mu.Unlock()
			if !warned {
				p.log.Warn("alert references unknown channel", zap.String("alert", def.Name), zap.String("channel", name))
			}
			continue
		}
		err := p.traceSend(ctx, name, func(spanCtx context.Context) error {
			return ch.Send(spanCtx, v)
		})
		status := "success"
		if err != nil {
			status = "error"
			p.log.Warn("channel send failed", zap.String("channel", name), zap.Error(err))
		}
		if p.prom != nil {
			p.prom.ChannelSendsTotal.WithLabelValues(name, status).Inc()
		}
	}
}

func (p *Pipeline) traceSend(ctx context.Context, channelName string, fn func(context.Context) error) error {
	if p.tracer == nil {
		return fn(ctx)
	}
	return p.tracer.TraceSend(ctx, channelName, fn)
}

// ActiveViolations returns a snapshot of the current active set.
func (p *Pipeline) ActiveViolations() []*sentinel.Violation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*sentinel.Violation, 0, len(p.active))
	for _, v := range p.active {
		out = append(out, v)
	}
	return out
}

// History returns up to limit of the most recent history entries,
// oldest first. limit <= 0 returns the full retained history.
func (p *Pipeline) History(limit int) []*sentinel.Violation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if limit <= 0 || limit >= len(p.history) {
		out := make([]*sentinel.Violation, len(p.history))
		copy(out, p.history)
		return out
	}
	out := make([]*sentinel.Violation, limit)
	copy(out, p.history[len(p.history)-limit:])
	return out
}

// HistorySince returns the history entries appended after cursor,
// oldest first, plus the cursor to pass on the next call. Eviction from
// the bounded history (maxHistory) only drops entries from the
// retained slice; the append count never regresses, so a caller
// polling with the returned cursor sees every entry exactly once in
// append order for as long as it keeps up with eviction. Entries
// evicted before a lagging caller reads them are skipped rather than
// replayed.
func (p *Pipeline) HistorySince(cursor int64) ([]*sentinel.Violation, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	firstRetained := p.appended - int64(len(p.history))
	start := cursor - firstRetained
	if start < 0 {
		start = 0
	}
	if start >= int64(len(p.history)) {
		return nil, p.appended
	}

	out := make([]*sentinel.Violation, len(p.history)-int(start))
	copy(out, p.history[start:])
	return out, p.appended
}

// Acknowledge sets acknowledged=true on the active violation matching
// id, returning whether a match was found (spec.md §4.8).
func (p *Pipeline) Acknowledge(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.active {
		if v.ViolationID == id {
			v.Acknowledged = true
			return true
		}
	}
	return false
}
