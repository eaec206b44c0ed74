package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so that callers never inspect provider-specific error shapes.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is a missing or malformed request field.
	KindValidation
	// KindCredential is a missing provider key.
	KindCredential
	// KindQuota is a provider rate or quota limit.
	KindQuota
	// KindUpstream is any other provider failure (auth, network, 5xx).
	KindUpstream
	// KindGeneration is a provider response that does not satisfy the story schema.
	KindGeneration
	// KindImage is an image request that produced no usable image.
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCredential:
		return "credential"
	case KindQuota:
		return "quota_exceeded"
	case KindUpstream:
		return "upstream"
	case KindGeneration:
		return "generation"
	case KindImage:
		return "image_generation"
	default:
		return "unknown"
	}
}

// Error is the single error type crossing package boundaries.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "gemini.GenerateStory"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.msg(), e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.msg())
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.msg(), e.Err)
	default:
		return e.msg()
	}
}

func (e *Error) msg() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsQuota checks if err is a quota or rate limit failure.
func IsQuota(err error) bool {
	return KindOf(err) == KindQuota
}

func ValidationError(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func CredentialError(msg string) error {
	return &Error{Kind: KindCredential, Msg: msg}
}

func QuotaError(op string, err error) error {
	return &Error{Kind: KindQuota, Op: op, Msg: "quota exceeded", Err: err}
}

func UpstreamError(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Msg: "provider call failed", Err: err}
}

func GenerationError(op, msg string, err error) error {
	return &Error{Kind: KindGeneration, Op: op, Msg: msg, Err: err}
}

func ImageError(op, msg string, err error) error {
	return &Error{Kind: KindImage, Op: op, Msg: msg, Err: err}
}
