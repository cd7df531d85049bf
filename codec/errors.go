package codec

import (
	"fmt"
)

// ErrorKind classifies every failure a session operation can surface.
// Each error carries one of these plus the originating operation name.
type ErrorKind int

const (
	// ErrKindUnsupportedCodec: the requested codec is not available on this
	// backend. Not recoverable for this session.
	ErrKindUnsupportedCodec ErrorKind = iota
	// ErrKindUnsupportedConfig: the configuration cannot be satisfied (e.g.
	// RequireHardware on a machine without it, an unimplemented session
	// switch). Not recoverable.
	ErrKindUnsupportedConfig
	// ErrKindInvalidBitstream: malformed bytes (bad length prefix,
	// truncated NAL). Caller should correct input.
	ErrKindInvalidBitstream
	// ErrKindInvalidInput: malformed high-level argument (bad dimensions,
	// wrong buffer variant). Caller should correct input.
	ErrKindInvalidInput
	// ErrKindTemporaryBackpressure: transient; retry after releasing
	// credits or advancing time.
	ErrKindTemporaryBackpressure
	// ErrKindDeviceLost: hardware/context became unusable; the session must
	// be recreated.
	ErrKindDeviceLost
	// ErrKindBackend: any other backend-originated failure; message carries
	// the originating operation name.
	ErrKindBackend
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindUnsupportedCodec:
		return "unsupported_codec"
	case ErrKindUnsupportedConfig:
		return "unsupported_config"
	case ErrKindInvalidBitstream:
		return "invalid_bitstream"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindTemporaryBackpressure:
		return "temporary_backpressure"
	case ErrKindDeviceLost:
		return "device_lost"
	case ErrKindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Error is the concrete typed error every public operation returns on
// failure. It wraps an optional underlying cause and an ErrorKind so
// callers can branch with errors.Is/errors.As.
type Error struct {
	Kind ErrorKind
	Op   string // the originating operation, e.g. "decode.submit"
	Msg  string
	Err  error

	kindOnly bool // true for the package-level sentinels used with errors.Is
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInvalidInput) work against sentinel kind values
// constructed with newKindError.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kindOnly && t.Kind == e.Kind
}

// sentinels usable with errors.Is(err, codec.ErrInvalidInput), etc.
var (
	ErrUnsupportedCodec      = &Error{Kind: ErrKindUnsupportedCodec, kindOnly: true}
	ErrUnsupportedConfig     = &Error{Kind: ErrKindUnsupportedConfig, kindOnly: true}
	ErrInvalidBitstream      = &Error{Kind: ErrKindInvalidBitstream, kindOnly: true}
	ErrInvalidInput          = &Error{Kind: ErrKindInvalidInput, kindOnly: true}
	ErrTemporaryBackpressure = &Error{Kind: ErrKindTemporaryBackpressure, kindOnly: true}
	ErrDeviceLost            = &Error{Kind: ErrKindDeviceLost, kindOnly: true}
)

func newErr(op string, kind ErrorKind, msg string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: cause}
}

func invalidInput(op, msg string) error {
	return newErr(op, ErrKindInvalidInput, msg, nil)
}

func invalidBitstream(op, msg string) error {
	return newErr(op, ErrKindInvalidBitstream, msg, nil)
}

func unsupportedCodec(op string, c Codec) error {
	return newErr(op, ErrKindUnsupportedCodec, fmt.Sprintf("codec %s not available on this backend", c), nil)
}

func unsupportedConfig(op, msg string) error {
	return newErr(op, ErrKindUnsupportedConfig, msg, nil)
}

func backendErr(op string, cause error) error {
	return newErr(op, ErrKindBackend, "backend operation failed", cause)
}

func temporaryBackpressure(op string) error {
	return newErr(op, ErrKindTemporaryBackpressure, "retry after releasing credits or advancing time", nil)
}

func deviceLost(op string, cause error) error {
	return newErr(op, ErrKindDeviceLost, "hardware context is no longer usable", cause)
}
