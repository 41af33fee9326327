package cstore

import (
	"errors"
	"fmt"
	"strings"
)

var magic = []byte{'c', 's', 't', 'o', 'r', 'e', 0xC5, 0x7A}

const (
	versionMajor = 1
	versionMinor = 1

	headerSize = 10 // magic + version major + version minor
)

// FooterSuffix is appended to the data file path to obtain the footer file path.
const FooterSuffix = ".footer"

const tempSuffix = ".tmp"

// Format errors, wrapped in a *FormatError.
var (
	// ErrBadMagic is returned when a file is not in this format.
	ErrBadMagic = errors.New("cstore: bad magic byte sequence")
	// ErrUnsupportedVersion is returned when the file was written by an incompatible version.
	ErrUnsupportedVersion = errors.New("cstore: unsupported version")
	// ErrCorrupt is returned when a structure is truncated or malformed.
	ErrCorrupt = errors.New("cstore: truncated or corrupt data")
	// ErrLengthMismatch is returned when a decoded block does not match its recorded length.
	ErrLengthMismatch = errors.New("cstore: block length mismatch")
)

// ErrInvalidCompression is returned for unrecognized compression kinds.
var ErrInvalidCompression = errors.New("cstore: invalid compression")

var (
	errClosed    = errors.New("cstore: is closed")
	errFailed    = errors.New("cstore: writer failed")
	errNoColumns = errors.New("cstore: schema has no columns")
	errNoKey     = errors.New("cstore: encryption key required")
)

// FormatError reports a malformed file, naming the file and the offset of
// the offending structure.
type FormatError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s at offset %d", e.Err.Error(), e.Offset)
	}
	return fmt.Sprintf("%s in %s at offset %d", e.Err.Error(), e.Path, e.Offset)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(offset int64, err error) error {
	return &FormatError{Offset: offset, Err: err}
}

// withPath fills the path of a format error, if err is one.
func withPath(err error, path string) error {
	var fe *FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = path
	}
	return err
}

// ConfigError reports an invalid option value. It is always returned before
// any file is touched.
type ConfigError struct {
	Option string
	Value  interface{}
	Hint   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cstore: invalid %s %v, %s", e.Option, e.Value, e.Hint)
}

func (e *ConfigError) Unwrap() error {
	if e.Option == "compression" {
		return ErrInvalidCompression
	}
	return nil
}

// --------------------------------------------------------------------

// Compression is the compression kind of a block.
type Compression byte

// Supported compression kinds.
const (
	NoCompression Compression = iota
	SnappyCompression
	LZ4Compression
	EncLZ4Compression
	unknownCompression
)

var compressionNames = []string{"none", "snappy", "lz4", "enc_lz4"}

func (c Compression) isValid() bool {
	return c < unknownCompression
}

// String returns the configuration name of the compression kind.
func (c Compression) String() string {
	if c.isValid() {
		return compressionNames[c]
	}
	return fmt.Sprintf("Compression(%d)", byte(c))
}

// ParseCompression parses a compression name.
func ParseCompression(s string) (Compression, error) {
	for i, name := range compressionNames {
		if strings.EqualFold(s, name) {
			return Compression(i), nil
		}
	}
	return unknownCompression, &ConfigError{
		Option: "compression",
		Value:  s,
		Hint:   "must be one of " + strings.Join(compressionNames, ", "),
	}
}
