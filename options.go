package cstore

import (
	"strconv"

	"go.uber.org/zap"
)

// Row count limits.
const (
	DefaultStripeRowCount = 150000
	DefaultBlockRowCount  = 10000

	MaxStripeRowCount = 10000000
	MaxBlockRowCount  = 100000

	// minTableRowCount is the lower bound enforced on table options.
	minTableRowCount = 1000
)

// EncryptionKeySize is the required length of an encryption key.
const EncryptionKeySize = 32

// WriterOptions define writer specific options.
type WriterOptions struct {
	// The compression kind to use for value streams.
	// Default: NoCompression.
	Compression Compression

	// StripeRowCount is the maximum number of rows per stripe.
	// Default: 150,000.
	StripeRowCount int

	// BlockRowCount is the number of rows per block. When appending to an
	// existing table, the table's block row count wins.
	// Default: 10,000.
	BlockRowCount int

	// EncryptionKey is the 32-byte key used by EncLZ4Compression.
	EncryptionKey []byte

	// Logger receives debug and warning events.
	// Default: no logging.
	Logger *zap.Logger

	// Metrics, optional.
	Metrics *Metrics
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if oo.StripeRowCount == 0 {
		oo.StripeRowCount = DefaultStripeRowCount
	}
	if oo.BlockRowCount == 0 {
		oo.BlockRowCount = DefaultBlockRowCount
	}
	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}

	return &oo
}

func (o *WriterOptions) validate() error {
	if !o.Compression.isValid() {
		return &ConfigError{Option: "compression", Value: o.Compression, Hint: "unknown kind"}
	}
	if o.StripeRowCount < 1 || o.StripeRowCount > MaxStripeRowCount {
		return &ConfigError{Option: "stripe row count", Value: o.StripeRowCount, Hint: "must be between 1 and " + strconv.Itoa(MaxStripeRowCount)}
	}
	if o.BlockRowCount < 1 || o.BlockRowCount > MaxBlockRowCount {
		return &ConfigError{Option: "block row count", Value: o.BlockRowCount, Hint: "must be between 1 and " + strconv.Itoa(MaxBlockRowCount)}
	}
	if o.Compression == EncLZ4Compression && len(o.EncryptionKey) != EncryptionKeySize {
		return &ConfigError{Option: "encryption key", Value: len(o.EncryptionKey), Hint: "must be 32 bytes long"}
	}
	return nil
}

// ReaderOptions define reader specific options.
type ReaderOptions struct {
	// EncryptionKey is required to decode EncLZ4Compression blocks.
	EncryptionKey []byte

	// Logger receives debug events.
	// Default: no logging.
	Logger *zap.Logger

	// Metrics, optional.
	Metrics *Metrics
}

func (o *ReaderOptions) norm() *ReaderOptions {
	var oo ReaderOptions
	if o != nil {
		oo = *o
	}
	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}
	return &oo
}

// --------------------------------------------------------------------

// TableOptions are the string options a host attaches to a table.
type TableOptions struct {
	Compression    Compression
	StripeRowCount int
	BlockRowCount  int
}

// ParseTableOptions validates host-facing table options. Recognized keys
// are "compression", "stripe_row_count" and "block_row_count"; unknown
// keys are rejected. Missing keys take their defaults.
func ParseTableOptions(m map[string]string) (*TableOptions, error) {
	opts := &TableOptions{
		Compression:    NoCompression,
		StripeRowCount: DefaultStripeRowCount,
		BlockRowCount:  DefaultBlockRowCount,
	}

	for key, val := range m {
		switch key {
		case "compression":
			c, err := ParseCompression(val)
			if err != nil {
				return nil, err
			}
			opts.Compression = c
		case "stripe_row_count":
			n, err := parseRowCount(key, val, MaxStripeRowCount)
			if err != nil {
				return nil, err
			}
			opts.StripeRowCount = n
		case "block_row_count":
			n, err := parseRowCount(key, val, MaxBlockRowCount)
			if err != nil {
				return nil, err
			}
			opts.BlockRowCount = n
		default:
			return nil, &ConfigError{Option: "option", Value: key, Hint: "valid options are compression, stripe_row_count, block_row_count"}
		}
	}
	return opts, nil
}

// WriterOptions converts table options into writer options.
func (o *TableOptions) WriterOptions() *WriterOptions {
	return &WriterOptions{
		Compression:    o.Compression,
		StripeRowCount: o.StripeRowCount,
		BlockRowCount:  o.BlockRowCount,
	}
}

func parseRowCount(key, val string, max int) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil || n < minTableRowCount || n > max {
		return 0, &ConfigError{Option: key, Value: val, Hint: "must be between " + strconv.Itoa(minTableRowCount) + " and " + strconv.Itoa(max)}
	}
	return n, nil
}
