package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseIR        Phase = "ir"        // IR construction and mutation
	PhaseTranslate Phase = "translate" // per-function translators (kts/fts/frint)
	PhaseCopy      Phase = "copy"      // cross-module copier / tree-shake
	PhasePass      Phase = "pass"      // whole-module passes
	PhaseDecode    Phase = "decode"    // bytecode to IR
	PhaseEncode    Phase = "encode"    // IR to bytecode
)

// Kind categorizes the error
type Kind string

const (
	KindStructuralInvariant Kind = "structural_invariant"
	KindMissingMapping      Kind = "missing_mapping"
	KindInvalidSignature    Kind = "invalid_signature"
	KindLazyParseFailure    Kind = "lazy_parse_failure"
	KindIrreducibleCfg      Kind = "irreducible_cfg"
	KindDepthExceeded       Kind = "depth_exceeded"
	KindInvalidData         Kind = "invalid_data"
	KindUnsupported         Kind = "unsupported"
)

// Error is the structured error type used throughout the library
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Pass   string
	Block  string
	Value  string
	Detail string
	// Dump holds textual IR of the offending function body, when a
	// structural invariant is reported against a whole body.
	Dump string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Pass != "" {
		b.WriteString(" in ")
		b.WriteString(e.Pass)
	}
	if e.Block != "" {
		b.WriteString(" at ")
		b.WriteString(e.Block)
		if e.Value != "" {
			b.WriteByte('/')
			b.WriteString(e.Value)
		}
	} else if e.Value != "" {
		b.WriteString(" at ")
		b.WriteString(e.Value)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	if e.Dump != "" {
		b.WriteString("\nbody:\n")
		b.WriteString(e.Dump)
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Pass sets the pass name
func (b *Builder) Pass(name string) *Builder {
	b.err.Pass = name
	return b
}

// Block sets the offending block
func (b *Builder) Block(block string) *Builder {
	b.err.Block = block
	return b
}

// Value sets the offending value
func (b *Builder) Value(value string) *Builder {
	b.err.Value = value
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Dump attaches a textual IR dump of the offending body
func (b *Builder) Dump(dump string) *Builder {
	b.err.Dump = dump
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Structural creates a structural-invariant error
func Structural(phase Phase, pass, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStructuralInvariant,
		Pass:   pass,
		Detail: detail,
	}
}

// MissingMapping reports a source value with no destination binding
// during translation. This always indicates a translator bug (usually a
// violated max-SSA precondition).
func MissingMapping(pass, block, value string) *Error {
	return &Error{
		Phase:  PhaseTranslate,
		Kind:   KindMissingMapping,
		Pass:   pass,
		Block:  block,
		Value:  value,
		Detail: "source value has no destination binding",
	}
}

// InvalidSignature reports an operator used against the wrong signature
// variant (e.g. a call through a struct signature).
func InvalidSignature(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidSignature,
		Detail: detail,
	}
}

// LazyParse reports a failure decoding a lazy function body
func LazyParse(fn string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindLazyParseFailure,
		Value:  fn,
		Detail: "parse lazy function body",
		Cause:  cause,
	}
}

// Irreducible reports a back-edge whose target does not dominate its source
func Irreducible(from, to string) *Error {
	return &Error{
		Phase:  PhaseIR,
		Kind:   KindIrreducibleCfg,
		Block:  from,
		Detail: fmt.Sprintf("irreducible edge to %s", to),
	}
}

// DepthExceeded reports the defensive depth limit in a cloning helper
func DepthExceeded(value, op string) *Error {
	return &Error{
		Phase:  PhaseIR,
		Kind:   KindDepthExceeded,
		Value:  value,
		Detail: fmt.Sprintf("clone depth limit hit at %s", op),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
