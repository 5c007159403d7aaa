package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"genomevault/internal/models"
	"genomevault/internal/objectstore"
	"genomevault/internal/scanner"
	"genomevault/internal/telemetry"
)

// stageResult is what a stage body reports back to the stage runner.
// Everything a stage produces travels through this struct; abandoned
// stage goroutines keep no shared state to race on.
type stageResult struct {
	outcome  string
	detail   models.StageDetail
	artifact *models.ArtifactRef
	analysis *models.AnalysisResult
}

func cancelledVerdict() models.Verdict {
	return models.Verdict{
		TerminalState: models.StateCancelled,
		Reason:        models.ReasonCancelled,
		Stages:        []models.StageRecord{},
	}
}

// runJob drives one job through the ordered stage list. Stages run
// strictly sequentially; the first fatal failure short-circuits the
// rest, finalize always runs.
func (p *Pool) runJob(item queueItem) {
	id := item.id
	jobCtx, err := p.reg.Context(id)
	if err != nil {
		zeroBytes(item.data)
		return
	}

	// Cancelled while still queued: the registry already moved the
	// job to its terminal state, just release the buffer.
	if state, _ := p.reg.State(id); state == models.StateCancelled {
		_ = p.reg.SetVerdict(id, cancelledVerdict())
		zeroBytes(item.data)
		return
	}

	if err := p.reg.Transition(id, models.StateQueued, models.StateRunning); err != nil {
		// Lost the race with a cancel; settle the verdict and move on.
		if state, _ := p.reg.State(id); state == models.StateCancelled {
			_ = p.reg.SetVerdict(id, cancelledVerdict())
		} else {
			p.log.Errorw("queued job failed to start", "job_id", id, "err", err)
		}
		zeroBytes(item.data)
		return
	}

	started := time.Now()
	var stageWG sync.WaitGroup
	verdict := models.Verdict{}
	cancelled := false
	var fatalReason string
	var artifactRef *models.ArtifactRef

	stages := []struct {
		name     string
		deadline time.Duration
		run      func(ctx context.Context) stageResult
	}{
		{models.StageAdmit, 0, func(context.Context) stageResult {
			return p.stageAdmit(item)
		}},
		{models.StageFormat, p.cfg.FormatDeadline, func(context.Context) stageResult {
			return p.stageFormat(item.data)
		}},
		{models.StageIDS, p.cfg.IDSDeadline, func(context.Context) stageResult {
			return p.stageIDS(item.data)
		}},
		{models.StageAML, p.cfg.AMLDeadline, func(context.Context) stageResult {
			return p.stageAML(item.data)
		}},
		{models.StagePersist, p.cfg.PersistDeadline, func(ctx context.Context) stageResult {
			return p.stagePersist(ctx, id, item.data)
		}},
		{models.StageAnalyze, p.cfg.AnalyzeDeadline, func(ctx context.Context) stageResult {
			return p.stageAnalyze(ctx, item.data)
		}},
	}

	for i, st := range stages {
		_ = p.reg.SetCursor(id, i)
		if jobCtx.Err() != nil {
			cancelled = true
		}
		if cancelled || fatalReason != "" {
			p.appendStage(id, skipRecord(st.name))
			continue
		}

		rec, res, timedOut := p.execStage(jobCtx, &stageWG, id, st.name, st.deadline, st.run)
		if jobCtx.Err() != nil && rec.Outcome != models.OutcomePass {
			cancelled = true
			rec.Outcome = models.OutcomeFail
			rec.Detail.Reason = models.ReasonCancelled
			rec.Detail.Timeout = false
			p.appendStage(id, rec)
			continue
		}
		p.appendStage(id, rec)

		switch st.name {
		case models.StageIDS:
			if rec.Detail.IDS != nil {
				verdict.IDSScore = rec.Detail.IDS.Score
			}
		case models.StageAML:
			if rec.Detail.AML != nil {
				verdict.AMLScore = rec.Detail.AML.Score
			}
		case models.StagePersist:
			if res.artifact != nil {
				artifactRef = res.artifact
				_ = p.reg.SetArtifactRef(id, *res.artifact)
			}
		case models.StageAnalyze:
			verdict.AnalysisOK = rec.Outcome == models.OutcomePass
			verdict.AnalysisResult = res.analysis
		}

		if timedOut {
			fatalReason = models.ReasonTimeout
			continue
		}
		if rec.Outcome == models.OutcomeFail && rec.Detail.Reason != "" && stageFatal(st.name) {
			fatalReason = rec.Detail.Reason
		}
	}

	// A persist that landed right before the cancel signal was
	// observed must not survive a cancelled job.
	if cancelled && artifactRef != nil {
		if _, err := p.store.Delete(context.Background(), id); err != nil {
			p.log.Warnw("cancelled job artifact cleanup failed", "job_id", id, "err", err)
		} else {
			_ = p.reg.ClearArtifactRef(id)
			artifactRef = nil
		}
	}

	// finalize: release plaintext buffers and settle the terminal state.
	// An abandoned stage body may still hold the buffer; it returns at
	// its next cancellation check, so the wait is bounded.
	_ = p.reg.SetCursor(id, len(stages))
	finStart := time.Now().UTC()
	stageWG.Wait()
	zeroBytes(item.data)
	finRec := models.StageRecord{
		Name:       models.StageFinalize,
		StartedAt:  finStart,
		FinishedAt: time.Now().UTC(),
		Outcome:    models.OutcomePass,
	}
	p.appendStage(id, finRec)

	terminal := models.StateCompleted
	reason := ""
	switch {
	case cancelled:
		terminal = models.StateCancelled
		reason = models.ReasonCancelled
	case fatalReason != "":
		terminal = models.StateFailed
		reason = fatalReason
	}

	view, _ := p.reg.Snapshot(id)
	verdict.TerminalState = terminal
	verdict.Reason = reason
	verdict.Stages = view.Stages
	verdict.ArtifactRef = artifactRef
	verdict.TotalDurationMS = time.Since(started).Milliseconds()
	_ = p.reg.SetVerdict(id, verdict)
	if err := p.reg.Transition(id, models.StateRunning, terminal); err != nil {
		p.log.Errorw("terminal transition failed", "job_id", id, "err", err)
	}

	telemetry.JobsTerminal.WithLabelValues(terminal).Inc()
	p.log.Infow("job terminal", "job_id", id, "state", terminal, "reason", reason,
		"duration_ms", verdict.TotalDurationMS)
}

// execStage wraps a stage body with the wall-clock timer, the per-stage
// deadline, and cancellation observation. A deadline overrun is
// recorded as fail{timeout}; a triggered cancel signal surfaces to the
// caller through the job context.
func (p *Pool) execStage(jobCtx context.Context, wg *sync.WaitGroup, id, name string, deadline time.Duration, run func(ctx context.Context) stageResult) (models.StageRecord, stageResult, bool) {
	telemetry.StageStarted.WithLabelValues(name).Inc()
	startedAt := time.Now().UTC()

	ctx := jobCtx
	cancel := context.CancelFunc(func() {})
	if deadline > 0 {
		ctx, cancel = context.WithTimeout(jobCtx, deadline)
	}
	defer cancel()

	done := make(chan stageResult, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		done <- run(ctx)
	}()

	var res stageResult
	timedOut := false
	select {
	case res = <-done:
		// A stage that failed because its context expired is a
		// timeout unless the job itself was cancelled.
		if res.outcome == models.OutcomeFail && ctx.Err() != nil && jobCtx.Err() == nil {
			timedOut = true
		}
	case <-ctx.Done():
		if jobCtx.Err() == nil {
			timedOut = true
		}
		res = stageResult{outcome: models.OutcomeFail}
	}

	finishedAt := time.Now().UTC()
	if timedOut {
		res.outcome = models.OutcomeFail
		res.detail.Timeout = true
		res.detail.Reason = models.ReasonTimeout
	}

	rec := models.StageRecord{
		Name:       name,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Outcome:    res.outcome,
		Detail:     res.detail,
	}
	durMS := finishedAt.Sub(startedAt).Milliseconds()
	telemetry.StageFinished.WithLabelValues(name, res.outcome).Inc()
	telemetry.StageDuration.WithLabelValues(name).Observe(float64(durMS))
	p.log.Debugw("stage finished", "job_id", id, "stage", name, "outcome", res.outcome, "duration_ms", durMS)
	return rec, res, timedOut
}

func (p *Pool) appendStage(id string, rec models.StageRecord) {
	if err := p.reg.AppendStage(id, rec); err != nil {
		p.log.Errorw("append stage failed", "job_id", id, "stage", rec.Name, "err", err)
	}
}

func skipRecord(name string) models.StageRecord {
	now := time.Now().UTC()
	return models.StageRecord{Name: name, StartedAt: now, FinishedAt: now, Outcome: models.OutcomeSkip}
}

// stageFatal reports whether a fail outcome on the stage aborts the
// job. analyze failures are reported but non-fatal.
func stageFatal(name string) bool {
	return name != models.StageAnalyze
}

func (p *Pool) stageAdmit(item queueItem) stageResult {
	detail := models.StageDetail{Admit: &models.AdmitDetail{Filename: item.filename, Size: int64(len(item.data))}}
	if len(item.data) == 0 {
		detail.Reason = models.ReasonInternal
		return stageResult{outcome: models.OutcomeFail, detail: detail}
	}
	return stageResult{outcome: models.OutcomePass, detail: detail}
}

func (p *Pool) stageFormat(data []byte) stageResult {
	res := scanner.ValidateFormat(data)
	detail := models.StageDetail{Format: &res.Detail}
	if !res.Passed {
		detail.Reason = models.ReasonFormatInvalid
		return stageResult{outcome: models.OutcomeFail, detail: detail}
	}
	return stageResult{outcome: models.OutcomePass, detail: detail}
}

func (p *Pool) stageIDS(data []byte) stageResult {
	res := p.ids.Scan(data, p.params.IDSThreshold())
	detail := models.StageDetail{IDS: &res.Detail}
	if !res.Passed {
		detail.Reason = models.ReasonThreatsDetected
		return stageResult{outcome: models.OutcomeFail, detail: detail}
	}
	return stageResult{outcome: models.OutcomePass, detail: detail}
}

func (p *Pool) stageAML(data []byte) stageResult {
	res := p.aml.Scan(data, p.params.AMLThreshold())
	detail := models.StageDetail{AML: &res.Detail}
	if res.Skipped {
		return stageResult{outcome: models.OutcomeSkip, detail: detail}
	}
	if !res.Passed {
		detail.Reason = models.ReasonAdversarial
		return stageResult{outcome: models.OutcomeFail, detail: detail}
	}
	return stageResult{outcome: models.OutcomePass, detail: detail}
}

func (p *Pool) stagePersist(ctx context.Context, id string, data []byte) stageResult {
	ref, err := p.store.Put(ctx, id, data)
	if err != nil {
		detail := models.StageDetail{}
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			detail.Reason = models.ReasonTimeout
		case errors.Is(err, objectstore.ErrIntegrity):
			detail.Reason = models.ReasonIntegrityError
		default:
			detail.Reason = models.ReasonStorageError
		}
		return stageResult{outcome: models.OutcomeFail, detail: detail}
	}
	detail := models.StageDetail{Persist: &models.PersistDetail{
		ContentHash:  ref.ContentHash,
		StoredSize:   ref.StoredSize,
		AlgorithmTag: ref.AlgorithmTag,
	}}
	return stageResult{outcome: models.OutcomePass, detail: detail, artifact: &ref}
}

func (p *Pool) stageAnalyze(ctx context.Context, data []byte) stageResult {
	res, err := p.analyzer.Analyze(ctx, data)
	if err != nil {
		return stageResult{outcome: models.OutcomeFail, detail: models.StageDetail{Analyze: &models.AnalyzeDetail{}}}
	}
	detail := models.StageDetail{Analyze: &models.AnalyzeDetail{Result: res}}
	return stageResult{outcome: models.OutcomePass, detail: detail, analysis: res}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
