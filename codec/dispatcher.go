package codec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftcam/hwcodec/internal/logging"
)

var dispatcherLog = logging.L("dispatcher")

// transformDispatcher is a worker pool of W>=1 goroutines consuming from
// an input channel and publishing each job's TransformResult to a bounded
// output queue of capacity R>=1.
type transformDispatcher struct {
	input  chan transformJob
	output *boundedQueue[TransformResult]
	closed atomic.Bool
	wg     sync.WaitGroup
	once   sync.Once
}

func newTransformDispatcher(workers, outputCapacity int) *transformDispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &transformDispatcher{
		input:  make(chan transformJob, 1),
		output: newBoundedQueue[TransformResult](outputCapacity),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	dispatcherLog.Info("transform dispatcher started", "workers", workers, "outputCapacity", outputCapacity)
	return d
}

func (d *transformDispatcher) worker() {
	defer d.wg.Done()
	for job := range d.input {
		result := runCPUTransform(job.input)
		_ = d.output.Send(result)
	}
}

// Submit enqueues a transform job. A disconnected input surfaces to the
// caller as queueClosed rather than failing silently.
func (d *transformDispatcher) Submit(job transformJob) error {
	if d.closed.Load() {
		return queueClosed{}
	}
	d.input <- job
	return nil
}

// RecvTimeout polls the dispatcher's output queue.
func (d *transformDispatcher) RecvTimeout(timeout time.Duration) (TransformResult, error) {
	return d.output.RecvTimeout(timeout)
}

// Close closes the input channel and joins every worker.
func (d *transformDispatcher) Close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.input)
	})
	d.wg.Wait()
	d.output.Close()
}
