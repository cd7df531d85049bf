package codec

// decodeBackendFactory constructs a hardwareDecoderDriver for a given
// backend kind. Registered per-platform via init() in
// decoder_videotoolbox_darwin.go / decoder_nvidia.go.
type decodeBackendFactory struct {
	kind BackendKind
	make func() hardwareDecoderDriver
}

type encodeBackendFactory struct {
	kind BackendKind
	make func() hardwareEncoderDriver
}

var (
	decodeFactories []decodeBackendFactory
	encodeFactories []encodeBackendFactory
)

func registerDecodeBackend(kind BackendKind, make func() hardwareDecoderDriver) {
	decodeFactories = append(decodeFactories, decodeBackendFactory{kind: kind, make: make})
}

func registerEncodeBackend(kind BackendKind, make func() hardwareEncoderDriver) {
	encodeFactories = append(encodeFactories, encodeBackendFactory{kind: kind, make: make})
}

// preferenceOrder returns the candidate backends to probe for Auto
// resolution, starting with the platform default.
func preferenceOrder() []BackendKind {
	def := osDefault()
	order := []BackendKind{def}
	for _, k := range []BackendKind{VideoToolbox, Nvidia} {
		if k != def {
			order = append(order, k)
		}
	}
	return order
}

// resolveDecodeBackend implements Auto resolution for decode: the first
// adapter reporting decode_supported (and, if requireHardware,
// hardware_acceleration) wins. If none qualify, an unsupportedDecoderDriver
// is bound.
func resolveDecodeBackend(kind BackendKind, codec Codec, requireHardware bool) (hardwareDecoderDriver, BackendKind) {
	candidates := []BackendKind{kind}
	if kind == Auto {
		candidates = preferenceOrder()
	}

	for _, want := range candidates {
		for _, f := range decodeFactories {
			if f.kind != want {
				continue
			}
			driver := f.make()
			report := driver.QueryCapability(codec)
			if report.DecodeSupported && (!requireHardware || report.HardwareAcceleration) {
				return driver, want
			}
			_ = driver.Close()
		}
	}
	return &unsupportedDecoderDriver{}, kind
}

// resolveEncodeBackend is symmetric on encode_supported.
func resolveEncodeBackend(kind BackendKind, codec Codec, requireHardware bool) (hardwareEncoderDriver, BackendKind) {
	candidates := []BackendKind{kind}
	if kind == Auto {
		candidates = preferenceOrder()
	}

	for _, want := range candidates {
		for _, f := range encodeFactories {
			if f.kind != want {
				continue
			}
			driver := f.make()
			report := driver.QueryCapability(codec)
			if report.EncodeSupported && (!requireHardware || report.HardwareAcceleration) {
				return driver, want
			}
			_ = driver.Close()
		}
	}
	return &unsupportedEncoderDriver{}, kind
}

// unsupportedDecoderDriver fails every submit/flush with UnsupportedConfig
// but still answers QueryCapability (all false).
type unsupportedDecoderDriver struct{}

func (unsupportedDecoderDriver) QueryCapability(Codec) CapabilityReport { return CapabilityReport{} }

func (unsupportedDecoderDriver) CreateSession(Codec, [][]byte, bool, *decoderOutputState) error {
	return unsupportedConfig("decoder.create_session", "no backend available for this codec/platform")
}

func (unsupportedDecoderDriver) SampleLayout() SampleLayout { return LayoutAnnexB }

func (unsupportedDecoderDriver) SubmitSample([]byte, Timestamp90k) error {
	return unsupportedConfig("decoder.submit", "no backend bound")
}

func (unsupportedDecoderDriver) Flush() error {
	return unsupportedConfig("decoder.flush", "no backend bound")
}

func (unsupportedDecoderDriver) Close() error { return nil }

type unsupportedEncoderDriver struct{}

func (unsupportedEncoderDriver) QueryCapability(Codec) CapabilityReport { return CapabilityReport{} }

func (unsupportedEncoderDriver) CreateSession(Codec, Dimensions, int, bool) error {
	return unsupportedConfig("encoder.create_session", "no backend available for this codec/platform")
}

func (unsupportedEncoderDriver) Configure(bool, int, int) error {
	return unsupportedConfig("encoder.configure", "no backend bound")
}

func (unsupportedEncoderDriver) SubmitFrame([]byte, Timestamp90k, bool) (bool, error) {
	return false, unsupportedConfig("encoder.submit", "no backend bound")
}

func (unsupportedEncoderDriver) ReadOutput() ([]byte, bool, bool, error) {
	return nil, false, false, unsupportedConfig("encoder.read_output", "no backend bound")
}

func (unsupportedEncoderDriver) SignalEndOfStream() (bool, error) {
	return false, unsupportedConfig("encoder.flush", "no backend bound")
}

func (unsupportedEncoderDriver) RequestSessionSwitch(SessionSwitchRequest) error {
	return unsupportedConfig("encoder.request_session_switch", "no backend bound")
}

func (unsupportedEncoderDriver) Close() error { return nil }
