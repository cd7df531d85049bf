package codec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftcam/hwcodec/internal/logging"
)

var schedulerLog = logging.L("scheduler")

const schedulerPollInterval = 5 * time.Millisecond

// PipelineScheduler is a single-thread executor in front of a
// backendTransformAdapter that gates every output behind a monotonic
// generation counter. When the upstream decode session is
// reconfigured (e.g. a resolution-change sequence callback), callers bump
// the generation so in-flight transforms produced from pre-switch frames
// are discarded instead of polluting the new stream.
//
// Submit and RecvTimeout are two independent stages, not one blocking
// round trip: Submit enqueues a task and returns as soon as it is queued
// (or rejected), and the completed TransformResult is retrieved
// separately via RecvTimeout, which polls the worker's output queue.
type PipelineScheduler struct {
	adapter *backendTransformAdapter

	generation atomic.Uint64

	tasks  chan schedulerTask
	output *boundedQueue[TransformResult]
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

type schedulerTask struct {
	input      TransformInput
	generation uint64
}

const defaultSchedulerOutputCapacity = 64

// NewPipelineScheduler wraps adapter and starts its worker goroutine. The
// generation counter starts at 1.
func NewPipelineScheduler(adapter *backendTransformAdapter) *PipelineScheduler {
	s := &PipelineScheduler{
		adapter: adapter,
		tasks:   make(chan schedulerTask, defaultSchedulerOutputCapacity),
		output:  newBoundedQueue[TransformResult](defaultSchedulerOutputCapacity),
		done:    make(chan struct{}),
	}
	s.generation.Store(1)
	s.wg.Add(1)
	go s.run()
	return s
}

// Submit enqueues in at the current generation and returns as soon as it
// is queued; it does not wait for the transform to run. Retrieve the
// result with RecvTimeout.
func (s *PipelineScheduler) Submit(in TransformInput) error {
	return s.SubmitWithGeneration(s.generation.Load(), in)
}

// SubmitWithGeneration pins the task to a specific generation g; if g is
// stale by the time the worker gets to it, the eventual result delivered
// through RecvTimeout is a TemporaryBackpressure error instead of a
// transform.
func (s *PipelineScheduler) SubmitWithGeneration(g uint64, in TransformInput) error {
	task := schedulerTask{input: in, generation: g}
	select {
	case s.tasks <- task:
		return nil
	case <-s.done:
		return queueClosed{}
	}
}

// RecvTimeout blocks up to d for the next completed result. ok is false
// if d elapses or the scheduler is closed first.
func (s *PipelineScheduler) RecvTimeout(d time.Duration) (result TransformResult, ok bool) {
	res, err := s.output.RecvTimeout(d)
	if err != nil {
		return TransformResult{}, false
	}
	return res, true
}

// AdvanceGeneration atomically increments and returns the new generation.
func (s *PipelineScheduler) AdvanceGeneration() uint64 {
	return s.generation.Add(1)
}

// SetGeneration sets the generation, clamped to >=1.
func (s *PipelineScheduler) SetGeneration(g uint64) {
	if g < 1 {
		g = 1
	}
	s.generation.Store(g)
}

// CurrentGeneration returns the generation readers compare against; a
// caller may observe a stale value, which is acceptable since the
// comparison only filters work.
func (s *PipelineScheduler) CurrentGeneration() uint64 {
	return s.generation.Load()
}

// OnReconfigure is a convenience wrapper around AdvanceGeneration for the
// common "session was reconfigured" call site, so callers don't reach
// into the raw counter.
func (s *PipelineScheduler) OnReconfigure() uint64 {
	return s.AdvanceGeneration()
}

func (s *PipelineScheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.tasks:
			result := s.execute(task)
			if err := s.output.Send(result); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *PipelineScheduler) execute(task schedulerTask) TransformResult {
	if task.generation != s.generation.Load() {
		return TransformResult{Err: temporaryBackpressure("scheduler.submit")}
	}

	imm, err := s.adapter.Submit(task.input)
	if err != nil {
		return TransformResult{Err: err}
	}
	if imm.ok {
		return TransformResult{Unit: imm.frame}
	}

	for {
		res, got := s.adapter.RecvTimeout(schedulerPollInterval)
		if got {
			if task.generation != s.generation.Load() {
				return TransformResult{Err: temporaryBackpressure("scheduler.submit")}
			}
			return res
		}
		if task.generation != s.generation.Load() {
			return TransformResult{Err: temporaryBackpressure("scheduler.submit")}
		}
	}
}

// Close sends a shutdown signal and joins the worker.
func (s *PipelineScheduler) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	s.output.Close()
	schedulerLog.Info("pipeline scheduler stopped")
}
