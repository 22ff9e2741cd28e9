package zpng

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the errors returned by every stream in this module.
type Kind int

const (
	None Kind = iota

	// Generic
	FileNotFound
	FileOpenFailed
	InvalidStream
	NoStream
	ExpectFailed
	NotImplemented

	// Huffman
	HuffmanInvalidCodeLengths
	HuffmanInvalidCode

	// Deflate
	DeflateInvalidCompressionType
	DeflateInvalidBlockLength
	DeflateInvalidCodeLengths
	DeflateInvalidCode

	// Zlib
	ZlibInvalidFlagCheck
	ZlibInvalidCompressionMethod
	ZlibInvalidChecksum

	// Png
	PngInvalidSignature
	PngInvalidChunkLayout
	PngInvalidChunkSize
	PngInvalidChunkContent
	PngInvalidChunkCRC
)

var kindNames = [...]string{
	None:                          "None",
	FileNotFound:                  "FileNotFound",
	FileOpenFailed:                "FileOpenFailed",
	InvalidStream:                 "InvalidStream",
	NoStream:                      "NoStream",
	ExpectFailed:                  "ExpectFailed",
	NotImplemented:                "NotImplemented",
	HuffmanInvalidCodeLengths:     "HuffmanInvalidCodeLengths",
	HuffmanInvalidCode:            "HuffmanInvalidCode",
	DeflateInvalidCompressionType: "DeflateInvalidCompressionType",
	DeflateInvalidBlockLength:     "DeflateInvalidBlockLength",
	DeflateInvalidCodeLengths:     "DeflateInvalidCodeLengths",
	DeflateInvalidCode:            "DeflateInvalidCode",
	ZlibInvalidFlagCheck:          "ZlibInvalidFlagCheck",
	ZlibInvalidCompressionMethod:  "ZlibInvalidCompressionMethod",
	ZlibInvalidChecksum:           "ZlibInvalidChecksum",
	PngInvalidSignature:           "PngInvalidSignature",
	PngInvalidChunkLayout:         "PngInvalidChunkLayout",
	PngInvalidChunkSize:           "PngInvalidChunkSize",
	PngInvalidChunkContent:        "PngInvalidChunkContent",
	PngInvalidChunkCRC:            "PngInvalidChunkCRC",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the root cause carried by every failure in this module. Layers
// above the one that failed add their operation names with Wrap; the Kind
// never changes on the way up.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: k}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && (t.Msg == "" || t.Msg == e.Msg)
}

// Errorf returns a new *Error of the given kind.
func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap prefixes err with op, keeping its kind. A nil err stays nil.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, op)
}

// KindOf reports the kind of err, or None if err does not carry one.
// Errors that come from an underlying reader or writer are InvalidStream.
func KindOf(err error) Kind {
	if err == nil {
		return None
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return InvalidStream
}

// IsKind reports whether err has the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Cause returns the innermost error of a breadcrumb chain.
func Cause(err error) error {
	return errors.Cause(err)
}
