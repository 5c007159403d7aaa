package tuner

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Params is the live parameter tuple shared between the intake
// pipeline and the external genetic-algorithm tuner. Reads are
// lock-free; the watcher is the only writer after startup.
type Params struct {
	ids     atomic.Int64
	aml     atomic.Uint64
	workers atomic.Int64
}

// NewParams seeds the tuple from configuration.
func NewParams(idsThreshold int, amlThreshold float64, workers int) *Params {
	p := &Params{}
	p.ids.Store(int64(idsThreshold))
	p.aml.Store(math.Float64bits(amlThreshold))
	p.workers.Store(int64(workers))
	return p
}

func (p *Params) IDSThreshold() int { return int(p.ids.Load()) }

// AMLThreshold returns the published cutoff, 0 when the model file's
// own threshold should be used.
func (p *Params) AMLThreshold() float64 { return math.Float64frombits(p.aml.Load()) }

func (p *Params) Workers() int { return int(p.workers.Load()) }

// published is the tuple layout the external tuner writes. Zero
// values leave the corresponding parameter untouched.
type published struct {
	IDSThreshold int     `json:"ids_threshold"`
	AMLThreshold float64 `json:"aml_threshold"`
	Workers      int     `json:"workers"`
}

// Watcher polls the published parameter file and applies overrides.
// The workers value only takes effect at process start; the pool size
// is fixed afterwards.
type Watcher struct {
	path     string
	params   *Params
	interval time.Duration
	log      *zap.SugaredLogger
	lastMod  time.Time
}

func NewWatcher(path string, params *Params, interval time.Duration, log *zap.SugaredLogger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{path: path, params: params, interval: interval, log: log}
}

// Load applies the file once if present. Used at startup so the
// published tuple wins over config defaults.
func (w *Watcher) Load() {
	w.poll()
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	raw, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warnw("read ga parameters failed", "path", w.path, "err", err)
		return
	}
	var pub published
	if err := json.Unmarshal(raw, &pub); err != nil {
		w.log.Warnw("parse ga parameters failed", "path", w.path, "err", err)
		return
	}
	w.lastMod = info.ModTime()
	if pub.IDSThreshold > 0 {
		w.params.ids.Store(int64(pub.IDSThreshold))
	}
	if pub.AMLThreshold > 0 {
		w.params.aml.Store(math.Float64bits(pub.AMLThreshold))
	}
	if pub.Workers > 0 {
		w.params.workers.Store(int64(pub.Workers))
	}
	w.log.Infow("ga parameters applied",
		"ids_threshold", w.params.IDSThreshold(),
		"aml_threshold", w.params.AMLThreshold(),
		"workers", w.params.Workers())
}
