package cloudmetrics

import (
	"strings"
	"sync"
)

// Recorder aggregates usage counters destined for the vendor cloud. All
// methods are safe to call whether or not cloud reporting is enabled.
type Recorder interface {
	RecordEnhancement(tool string)
	RecordCreditsConsumed(amount int64)
	RecordCreditsGranted(source string, amount int64)
	RecordPayment(provider string)
}

type recorder struct {
	metrics *metrics
	orgID   string
}

type noopRecorder struct{}

func (noopRecorder) RecordEnhancement(string)           {}
func (noopRecorder) RecordCreditsConsumed(int64)        {}
func (noopRecorder) RecordCreditsGranted(string, int64) {}
func (noopRecorder) RecordPayment(string)               {}

var (
	activeRecorder Recorder = noopRecorder{}
	recorderMu     sync.RWMutex
)

func setRecorder(rec Recorder) {
	if rec == nil {
		return
	}
	recorderMu.Lock()
	activeRecorder = rec
	recorderMu.Unlock()
}

func RecordEnhancement(tool string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordEnhancement(tool)
}

func RecordCreditsConsumed(amount int64) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordCreditsConsumed(amount)
}

func RecordCreditsGranted(source string, amount int64) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordCreditsGranted(source, amount)
}

func RecordPayment(provider string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordPayment(provider)
}

func (r *recorder) RecordEnhancement(tool string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.enhancements.WithLabelValues(r.org(), normalizeLabel(tool)).Inc()
}

func (r *recorder) RecordCreditsConsumed(amount int64) {
	if r == nil || r.metrics == nil || amount <= 0 {
		return
	}
	r.metrics.creditsConsumed.WithLabelValues(r.org()).Add(float64(amount))
}

func (r *recorder) RecordCreditsGranted(source string, amount int64) {
	if r == nil || r.metrics == nil || amount <= 0 {
		return
	}
	r.metrics.creditsGranted.WithLabelValues(r.org(), normalizeLabel(source)).Add(float64(amount))
}

func (r *recorder) RecordPayment(provider string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.payments.WithLabelValues(r.org(), normalizeLabel(provider)).Inc()
}

func (r *recorder) org() string {
	if org := strings.TrimSpace(r.orgID); org != "" {
		return org
	}
	return "unknown"
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
