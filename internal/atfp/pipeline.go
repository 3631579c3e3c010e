package atfp

import (
	"context"
	"fmt"
)

// SourceAware is implemented by destination variants that need to consult
// the source processor's HasDoneProcessing to decide when to switch to a
// flush/finalize path (spec.md §4.4: "asks the source whether processing
// is done"). Pipeline wires the source in via SetSource before Run starts.
type SourceAware interface {
	SetSource(source ProcessorOps)
}

// Pipeline coordinates one source processor and one destination processor
// for a single Job, the way spec.md §4.4 describes: the destination loops
// filter→encode→write until blocked, then asks the source whether it is
// done; if so the destination switches to its flush path and finishes.
type Pipeline struct {
	job         *Job
	source      ProcessorOps
	destination ProcessorOps
}

// New creates a Pipeline over the given Job, source, and destination
// processors. destination may be nil for source-only operations such as
// non-stream fetch. If destination implements SourceAware, its SetSource is
// called with source.
func New(job *Job, source, destination ProcessorOps) *Pipeline {
	if destination != nil {
		if sa, ok := destination.(SourceAware); ok {
			sa.SetSource(source)
		}
	}
	return &Pipeline{job: job, source: source, destination: destination}
}

// Run drives Init → Processing loop → Deinit to completion. If a processor
// fails, Run records the error message in job.Error under SectionReason and
// returns that processor's error, wrapped. Each iteration advances both the
// source and, if present, the destination: the source keeps feeding bytes
// while the destination keeps consuming and transforming them, exactly as
// spec.md §4.4 describes two independently-stepped processors coordinating
// through the shared Job (the asa_map equivalent).
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Init(ctx); err != nil {
		p.job.Error.Set(SectionReason, err.Error())
		return fmt.Errorf("atfp: source init: %w", err)
	}
	defer func() { _ = p.source.Deinit(ctx) }()

	if p.destination != nil {
		if err := p.destination.Init(ctx); err != nil {
			p.job.Error.Set(SectionReason, err.Error())
			return fmt.Errorf("atfp: destination init: %w", err)
		}
		defer func() { _ = p.destination.Deinit(ctx) }()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		srcProgress := ProgressDone
		if !p.source.HasDoneProcessing() {
			progress, err := p.source.Processing(ctx)
			if err != nil {
				p.job.Error.Set(SectionReason, err.Error())
				return fmt.Errorf("atfp: source processing: %w", err)
			}
			srcProgress = progress
		}

		if p.destination == nil {
			if srcProgress == ProgressDone {
				return nil
			}
			if srcProgress == ProgressNeedMoreData {
				if err := p.wait(ctx); err != nil {
					return err
				}
			}
			continue
		}

		dstProgress, err := p.destination.Processing(ctx)
		if err != nil {
			p.job.Error.Set(SectionReason, err.Error())
			return fmt.Errorf("atfp: destination processing: %w", err)
		}

		if dstProgress == ProgressDone {
			p.job.VersionExists = true
			return nil
		}

		if srcProgress != ProgressContinue && dstProgress == ProgressNeedMoreData {
			if err := p.wait(ctx); err != nil {
				return err
			}
		}
	}
}

// wait blocks until Job.Wake is signaled by an outstanding storage callback,
// or ctx is cancelled, instead of busy-spinning the loop above.
func (p *Pipeline) wait(ctx context.Context) error {
	select {
	case <-p.job.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
