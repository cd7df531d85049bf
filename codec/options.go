package codec

import (
	"log/slog"
	"os"
)

// NvidiaDecoderOptions configures NVDEC-specific decoder behavior. Pass a
// *NvidiaDecoderOptions as DecoderConfig.BackendOptions.
type NvidiaDecoderOptions struct {
	// ReportMetrics, when set, makes the decoder log per-stage timings to
	// stderr.
	ReportMetrics bool
}

const (
	minMaxInFlightOutputs     = 1
	maxMaxInFlightOutputs     = 64
	DefaultMaxInFlightOutputs = 6
)

// NvidiaEncoderOptions configures NVENC-specific encoder behavior. Pass a
// *NvidiaEncoderOptions as EncoderConfig.BackendOptions.
type NvidiaEncoderOptions struct {
	// MaxInFlightOutputs bounds the number of submitted frames allowed to
	// be outstanding (submitted, not yet drained) at once; clamped to
	// [1,64], default 6.
	MaxInFlightOutputs int
	GopLength          *int
	FrameIntervalP     *int
	ReportMetrics      bool
	SafeLifetimeMode   bool

	// EnablePipelineScheduler routes produced chunks through a
	// generation-gated ready queue so an immediate session switch can drop
	// pre-switch output instead of handing it to the caller.
	EnablePipelineScheduler bool
	PipelineQueueCapacity   int
}

// normalized clamps MaxInFlightOutputs/PipelineQueueCapacity to their
// documented ranges and fills in defaults for zero values.
func (o NvidiaEncoderOptions) normalized() NvidiaEncoderOptions {
	if o.MaxInFlightOutputs == 0 {
		o.MaxInFlightOutputs = DefaultMaxInFlightOutputs
	}
	if o.MaxInFlightOutputs < minMaxInFlightOutputs {
		o.MaxInFlightOutputs = minMaxInFlightOutputs
	}
	if o.MaxInFlightOutputs > maxMaxInFlightOutputs {
		o.MaxInFlightOutputs = maxMaxInFlightOutputs
	}
	if o.PipelineQueueCapacity < 1 {
		o.PipelineQueueCapacity = o.MaxInFlightOutputs
	}
	return o
}

// nvidiaDecoderOptionsFrom type-asserts a DecoderConfig.BackendOptions
// value, returning the zero value if opts is nil or of a different type:
// a VideoToolbox session ignores Nvidia-only options rather than erroring.
func nvidiaDecoderOptionsFrom(opts any) NvidiaDecoderOptions {
	switch v := opts.(type) {
	case NvidiaDecoderOptions:
		return v
	case *NvidiaDecoderOptions:
		if v != nil {
			return *v
		}
	}
	return NvidiaDecoderOptions{}
}

func nvidiaEncoderOptionsFrom(opts any) NvidiaEncoderOptions {
	switch v := opts.(type) {
	case NvidiaEncoderOptions:
		return v.normalized()
	case *NvidiaEncoderOptions:
		if v != nil {
			return v.normalized()
		}
	}
	return NvidiaEncoderOptions{}.normalized()
}

// metricsLogger returns a stderr-only logger for backend stage-timing
// reports. It is intentionally separate from internal/logging's
// root handler, which defaults to stdout: metrics reporting is an opt-in
// diagnostic stream, not part of the library's normal structured log.
func metricsLogger(component string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", component)
}
