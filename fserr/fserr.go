// Package fserr defines the error-kind vocabulary both engines and the
// vfs package return, as sentinel errors usable with errors.Is. It
// expresses as Go error values the same vocabulary that FatFs-style
// libraries express as numeric result codes.
package fserr

import "github.com/pkg/errors"

// Kind is a sentinel error identifying one of the error categories
// engines can report. Engines and vfs wrap a Kind with context via
// github.com/pkg/errors.Wrap; callers compare with errors.Is(err, fserr.NoEntry)
// etc., which still works through the wrap because pkg/errors preserves
// the Unwrap chain.
type Kind struct {
	msg string
}

func (k *Kind) Error() string { return k.msg }

func newKind(msg string) *Kind { return &Kind{msg: msg} }

// Path/name errors.
var (
	NoEntry             = newKind("no such file or directory")
	NotDirectory         = newKind("not a directory")
	IsDirectory          = newKind("is a directory")
	Exists               = newKind("file exists")
	NotEmpty             = newKind("directory not empty")
	NameTooLong          = newKind("name too long")
	IllegalByteSequence  = newKind("illegal byte sequence")
)

// Capacity errors.
var (
	NoSpace      = newKind("no space left on device")
	FileTooLarge = newKind("file too large")
)

// Request-shape errors.
var (
	ReadOnlyFilesystem = newKind("read-only filesystem")
	InvalidArgument     = newKind("invalid argument")
	CrossDevice         = newKind("cross-device link")
	NotSupported        = newKind("operation not supported")
)

// Open-handle table errors.
var (
	BadFileDescriptor = newKind("bad file descriptor")
	TooManyOpenFiles  = newKind("too many open files")
)

// Device/metadata errors.
var (
	IO               = newKind("input/output error")
	CorruptFilesystem = newKind("corrupt filesystem")
)

// Concurrency error.
var Busy = newKind("resource busy")

// Overflow is returned when a stat-able size exceeds the platform's
// signed size type.
var Overflow = newKind("value too large for defined data type")

// Wrap attaches msg as context to cause (normally one of the Kind
// sentinels above) while preserving errors.Is(result, cause).
func Wrap(cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return errors.Wrap(cause, msg)
}

// Wrapf is Wrap with a format string.
func Wrapf(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return errors.Wrapf(cause, format, args...)
}
