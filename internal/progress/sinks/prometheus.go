package sinks

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paperharvest/paperharvest/internal/progress"
)

// PrometheusSink exports harvest counters per source. Events carry running
// totals, so the sink tracks the last seen value per (run, source) pair and
// feeds only the delta into each counter. Counters accumulate across retry
// attempts: increments from an attempt that is later rolled back are not
// reversed, so totals can exceed the persisted record count.
type PrometheusSink struct {
	papersNew       *prometheus.CounterVec
	papersDuplicate *prometheus.CounterVec
	papersFiltered  *prometheus.CounterVec
	papersErrors    *prometheus.CounterVec
	activeSources   prometheus.Gauge

	mu   sync.Mutex
	last map[lastKey]lastCounters
}

type lastKey struct {
	run    [16]byte
	source string
}

type lastCounters struct {
	newCount  int64
	duplicate int64
	filtered  int64
	errors    int64
}

// NewPrometheusSink registers the harvest metrics on the given registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		papersNew: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_papers_new_total",
			Help: "Papers inserted for the first time, by source, summed across retry attempts (rolled-back attempts are not deducted).",
		}, []string{"source"}),
		papersDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_papers_duplicate_total",
			Help: "Candidates already present in the record store, by source, summed across retry attempts.",
		}, []string{"source"}),
		papersFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_papers_filtered_total",
			Help: "Candidates rejected by the filter pipeline, by source, summed across retry attempts.",
		}, []string{"source"}),
		papersErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_item_errors_total",
			Help: "Per-item processing errors, by source.",
		}, []string{"source"}),
		activeSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_active_sources",
			Help: "Sources currently running a harvest attempt.",
		}),
		last: make(map[lastKey]lastCounters),
	}
	for _, c := range []prometheus.Collector{
		s.papersNew, s.papersDuplicate, s.papersFiltered, s.papersErrors, s.activeSources,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSourceStart:
			s.activeSources.Inc()
		case progress.StageSourceDone, progress.StageSourceError:
			s.activeSources.Dec()
		}

		key := lastKey{run: evt.RunID, source: evt.Source}
		prev := s.last[key]
		s.add(s.papersNew, evt.Source, evt.New-prev.newCount)
		s.add(s.papersDuplicate, evt.Source, evt.Duplicate-prev.duplicate)
		s.add(s.papersFiltered, evt.Source, evt.Filtered-prev.filtered)
		s.add(s.papersErrors, evt.Source, evt.Errors-prev.errors)
		s.last[key] = lastCounters{
			newCount:  evt.New,
			duplicate: evt.Duplicate,
			filtered:  evt.Filtered,
			errors:    evt.Errors,
		}

		if evt.Stage == progress.StageSourceDone || evt.Stage == progress.StageSourceError {
			delete(s.last, key)
		}
	}
	return nil
}

func (s *PrometheusSink) add(vec *prometheus.CounterVec, source string, delta int64) {
	if delta > 0 {
		vec.WithLabelValues(source).Add(float64(delta))
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
