// Package sentinel holds the PySentinel data model: alert definitions,
// threshold predicates, violations, and the latest-metrics snapshot
// each datasource produces. These types are immutable after
// construction except where noted (Violation.Acknowledged).
package sentinel

import (
	"fmt"
	"time"

	"github.com/project-sentinel/pysentinel/internal/config"
)

// Severity is the declared severity of an alert definition and the
// violations it produces.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates and normalizes a severity string from config.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	case "":
		return SeverityWarning, nil
	default:
		return "", fmt.Errorf("unrecognized severity %q", s)
	}
}

// Threshold is the max/min predicate attached to an alert definition.
// Exactly one of Max/Min is expected to be set; if both are nil the
// predicate never violates (spec.md §4.4 step 3).
type Threshold struct {
	Max *float64
	Min *float64
}

// Operator returns the comparison operator recorded on a violation for
// this threshold. Per the specification's open question #1, the
// recorded operator is the allowed-range boundary, not the violation
// direction: a max threshold (violated when v > max) records "<=", and
// a min threshold (violated when v < min) records ">=". This mirrors
// the source's behavior and is intentionally preserved, not "fixed".
func (t Threshold) Operator() string {
	switch {
	case t.Max != nil:
		return "<="
	case t.Min != nil:
		return ">="
	default:
		return ""
	}
}

// Value returns the configured threshold value for display purposes.
func (t Threshold) Value() float64 {
	switch {
	case t.Max != nil:
		return *t.Max
	case t.Min != nil:
		return *t.Min
	default:
		return 0
	}
}

// Evaluate reports whether v violates the threshold, per spec.md §4.4:
//   - max set:  violate iff v > max
//   - min set:  violate iff v < min
//   - neither:  never violates
func (t Threshold) Evaluate(v float64) bool {
	switch {
	case t.Max != nil:
		return v > *t.Max
	case t.Min != nil:
		return v < *t.Min
	default:
		return false
	}
}

// AlertDefinition is a declarative rule binding a query on a datasource
// to a threshold predicate and a list of delivery channels. Immutable
// after config load.
type AlertDefinition struct {
	Name            string
	MetricKey       string
	Query           string
	DatasourceName  string
	Threshold       Threshold
	Severity        Severity
	IntervalSeconds int
	AlertChannels   []string
	Description     string
	AlertGroup      string
	Enabled         bool
}

// FromConfig builds alert definitions for one alert group, tagging each
// with the group's name as its AlertGroup label. Alerts with an
// unrecognized severity are skipped, and each skipped alert adds one
// error to the returned slice (static load "ignores bad alerts with a
// log" per spec.md §7 — the caller is expected to log and continue
// rather than abort the whole group). Thresholds are copied as given
// and not validated here.
func FromConfig(groupName string, group config.AlertGroupConfig) ([]*AlertDefinition, []error) {
	groupEnabled := group.Enabled == nil || *group.Enabled
	var defs []*AlertDefinition
	var errs []error

	for _, a := range group.Alerts {
		severity, err := ParseSeverity(a.Severity)
		if err != nil {
			errs = append(errs, fmt.Errorf("alert %q: %w", a.Name, err))
			continue
		}

		enabled := groupEnabled
		if a.Enabled != nil {
			enabled = *a.Enabled
		}

		defs = append(defs, &AlertDefinition{
			Name:            a.Name,
			MetricKey:       a.Metric,
			Query:           a.Query,
			DatasourceName:  a.Datasource,
			Threshold:       Threshold{Max: a.Threshold.Max, Min: a.Threshold.Min},
			Severity:        severity,
			IntervalSeconds: a.Interval,
			AlertChannels:   a.AlertChannels,
			Description:     a.Description,
			AlertGroup:      groupName,
			Enabled:         enabled,
		})
	}

	return defs, errs
}

// ActiveKey returns the (datasource, alert) key used for the active-set
// and cooldown maps.
func (a *AlertDefinition) ActiveKey() string {
	return a.DatasourceName + "_" + a.Name
}

// Violation is a concrete instance of an alert whose predicate
// evaluated true. Immutable once created except for Acknowledged.
type Violation struct {
	ViolationID    string
	AlertName      string
	MetricName     string
	DatasourceName string
	AlertGroup     string
	CurrentValue   float64
	ThresholdValue float64
	Operator       string
	Severity       Severity
	Message        string
	Timestamp      time.Time
	Acknowledged   bool
}

// NewViolation constructs a Violation for alert def given the measured
// value, at instant now.
func NewViolation(def *AlertDefinition, value float64, now time.Time) *Violation {
	return &Violation{
		ViolationID:    fmt.Sprintf("%s_%s_%d", def.DatasourceName, def.Name, now.Unix()),
		AlertName:      def.Name,
		MetricName:     def.MetricKey,
		DatasourceName: def.DatasourceName,
		AlertGroup:     def.AlertGroup,
		CurrentValue:   value,
		ThresholdValue: def.Threshold.Value(),
		Operator:       def.Threshold.Operator(),
		Severity:       def.Severity,
		Message: fmt.Sprintf("%s: %s=%.4g violates threshold %s %.4g",
			def.Name, def.MetricKey, value, def.Threshold.Operator(), def.Threshold.Value()),
		Timestamp: now.UTC(),
	}
}

// ActiveKey returns the (datasource, alert) key this violation belongs
// to in the active set and cooldown maps.
func (v *Violation) ActiveKey() string {
	return v.DatasourceName + "_" + v.AlertName
}

// ToMap renders the violation in the wire format described in spec.md
// §6: a flat JSON-friendly map with lowercase severity and an
// ISO-8601 timestamp.
func (v *Violation) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"violation_id":    v.ViolationID,
		"alert_name":      v.AlertName,
		"metric_name":     v.MetricName,
		"datasource_name": v.DatasourceName,
		"alert_group":     v.AlertGroup,
		"current_value":   v.CurrentValue,
		"threshold_value": v.ThresholdValue,
		"operator":        v.Operator,
		"severity":        string(v.Severity),
		"message":         v.Message,
		"timestamp":       v.Timestamp.Format(time.RFC3339),
		"acknowledged":    v.Acknowledged,
	}
}

// MetricData is the latest fetch result recorded for one datasource.
type MetricData struct {
	DatasourceName   string
	Metrics          map[string]interface{}
	Timestamp        time.Time
	CollectionTimeMs int64
}
