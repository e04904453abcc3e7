package toolbus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolTag is the protocol revision carried by every envelope. Envelopes
// with any other tag are rejected during decoding.
const ProtocolTag = "2.0"

// ErrorCode identifies one member of the protocol's error taxonomy. Codes are
// transmitted as strings and are stable across releases; clients branch on the
// code, never on the message.
type ErrorCode string

// Protocol and application error codes.
//
// The first four are transport/protocol errors: the client is misbehaving or
// out of sync, and may retry with a correctly formed call on the same
// connection. The rest are application errors caused by request content or a
// failing backend. No code is fatal to the session.
const (
	CodeParseError         ErrorCode = "PARSE_ERROR"
	CodeInvalidEnvelope    ErrorCode = "INVALID_ENVELOPE"
	CodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	CodeMethodNotFound     ErrorCode = "METHOD_NOT_FOUND"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeInvalidArguments   ErrorCode = "INVALID_ARGUMENTS"
	CodeToolExecutionError ErrorCode = "TOOL_EXECUTION_ERROR"
	CodeResourceNotFound   ErrorCode = "RESOURCE_NOT_FOUND"
	CodeResourceReadError  ErrorCode = "RESOURCE_READ_ERROR"
)

// Error is the error member of a failure envelope. It carries a stable
// machine-readable code plus a human-readable message, and never exposes
// internal state beyond what the backend itself reports.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RequestID is the caller-supplied correlation value echoed verbatim on the
// response. The engine treats it as opaque: it never deduplicates, reorders or
// interprets ids. A nil RequestID encodes as JSON null, which is the id used
// when replying to a message whose own id is unrecoverable.
type RequestID json.RawMessage

var jsonNull = []byte("null")

// MarshalJSON implements json.Marshaler, encoding a nil id as null.
func (r RequestID) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return jsonNull, nil
	}
	return []byte(r), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping the raw value byte for
// byte so the echo on the response is verbatim.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	*r = RequestID(bytes.TrimSpace(data))
	return nil
}

// IsNull reports whether the id is absent or the JSON null literal.
func (r RequestID) IsNull() bool {
	return len(r) == 0 || bytes.Equal(r, jsonNull)
}

// EnvelopeKind tags the variant an Envelope holds.
type EnvelopeKind int

// The three envelope variants. Exactly one applies to any valid envelope.
const (
	KindRequest EnvelopeKind = iota
	KindResult
	KindError
)

// Envelope is one protocol message unit: a request carrying a method and
// params, a success response carrying a result, or a failure response carrying
// an error. The jsonrpc tag and the method/result/error exclusivity are part
// of the compatibility surface.
type Envelope struct {
	Protocol string          `json:"jsonrpc"`
	ID       RequestID       `json:"id"`
	Method   string          `json:"method,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *Error          `json:"error,omitempty"`
}

// Kind reports which variant the envelope holds. Only meaningful for
// envelopes that passed DecodeEnvelope or were built by the engine.
func (e Envelope) Kind() EnvelopeKind {
	switch {
	case e.Method != "":
		return KindRequest
	case e.Error != nil:
		return KindError
	default:
		return KindResult
	}
}

// NewRequest builds a request envelope. The params value must be marshalable;
// a nil params omits the member entirely.
func NewRequest(id RequestID, method string, params any) Envelope {
	env := Envelope{
		Protocol: ProtocolTag,
		ID:       id,
		Method:   method,
	}
	if params != nil {
		// Engine-constructed values are marshalable by construction.
		env.Params, _ = json.Marshal(params)
	}
	return env
}

// NewResult builds a success response envelope for the given request id.
func NewResult(id RequestID, result any) Envelope {
	resBs, _ := json.Marshal(result)
	return Envelope{
		Protocol: ProtocolTag,
		ID:       id,
		Result:   resBs,
	}
}

// NewErrorResponse builds a failure response envelope for the given request
// id. Pass a nil id to reply to a message whose id is unrecoverable.
func NewErrorResponse(id RequestID, protoErr *Error) Envelope {
	return Envelope{
		Protocol: ProtocolTag,
		ID:       id,
		Error:    protoErr,
	}
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DecodeEnvelope parses and validates one wire frame.
//
// It fails with CodeParseError when the payload is not well-formed JSON, and
// with CodeInvalidEnvelope when the protocol tag is wrong, the id member is
// absent, or the method/result/error exclusivity is violated. The returned
// error is always an *Error so the session can forward it as a reply.
func DecodeEnvelope(raw []byte) (Envelope, *Error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &Error{Code: CodeParseError, Message: "invalid json"}
	}

	if env.Protocol != ProtocolTag {
		return Envelope{}, Errorf(CodeInvalidEnvelope, "unsupported protocol tag: %q", env.Protocol)
	}
	if len(env.ID) == 0 {
		return Envelope{}, &Error{Code: CodeInvalidEnvelope, Message: "missing id"}
	}

	present := 0
	if env.Method != "" {
		present++
	}
	if len(env.Result) != 0 {
		present++
	}
	if env.Error != nil {
		present++
	}
	if present != 1 {
		return Envelope{}, &Error{
			Code:    CodeInvalidEnvelope,
			Message: "exactly one of method, result or error must be present",
		}
	}

	return env, nil
}

// EncodeEnvelope serializes an envelope to its wire form. Envelopes built by
// the engine are valid by construction, so encoding does not fail.
func EncodeEnvelope(env Envelope) []byte {
	bs, _ := json.Marshal(env)
	return bs
}
