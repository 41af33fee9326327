package cstore

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Writer instances pack rows into stripes and write them to an io.Writer.
// A Writer is not safe for concurrent use.
type Writer struct {
	w      io.Writer
	o      *WriterOptions
	schema Schema
	codec  codec

	offset int64  // the current file offset
	footer Footer // sealed stripes only

	blocks     []blockBuffer // the current block, per column
	exists     [][]byte      // exists streams of the current stripe, per column
	values     [][]byte      // value streams of the current stripe, per column
	nodes      [][]SkipNode  // skip nodes of the current stripe, per column
	stripeRows int           // rows buffered in the current stripe

	buf []byte // scratch compression buffer
	tmp []byte // scratch encoding buffer

	err    error // sticky write error
	closed bool
}

// NewWriter wraps a writer positioned at offset and returns a Writer. When
// offset is zero, a file header is written first. Pass the footer of an
// existing table to continue appending stripes after its last one; its block
// row count takes precedence over the options.
func NewWriter(w io.Writer, offset int64, footer *Footer, schema Schema, o *WriterOptions) (*Writer, error) {
	o = o.norm()
	if footer != nil && footer.BlockRowCount != 0 && footer.BlockRowCount != o.BlockRowCount {
		o.Logger.Warn("block row count differs from existing table, keeping the table's",
			zap.Int("requested", o.BlockRowCount),
			zap.Int("table", footer.BlockRowCount))
		o.BlockRowCount = footer.BlockRowCount
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}

	cd, err := newCodec(o.Compression, o.EncryptionKey)
	if err != nil {
		return nil, err
	}

	n := len(schema)
	wr := &Writer{
		w:      w,
		o:      o,
		schema: schema,
		codec:  cd,
		offset: offset,
		footer: Footer{BlockRowCount: o.BlockRowCount},
		blocks: make([]blockBuffer, n),
		exists: make([][]byte, n),
		values: make([][]byte, n),
		nodes:  make([][]SkipNode, n),
	}
	if footer != nil {
		wr.footer.Stripes = append(wr.footer.Stripes, footer.Stripes...)
	}
	for i, c := range schema {
		wr.blocks[i].typ = c.Type
	}

	if offset == 0 {
		hdr := append(append(make([]byte, 0, headerSize), magic...), versionMajor, versionMinor)
		if err := wr.writeRaw(hdr); err != nil {
			return nil, err
		}
	}
	return wr, nil
}

// WriteRow appends a row. Column i is null if nulls[i] is set or values[i]
// is nil; nulls may be nil. Non-null values must match the column type.
// Timestamps are stored with microsecond precision, sub-microsecond parts
// are truncated and the location is read back as UTC.
func (w *Writer) WriteRow(values []interface{}, nulls []bool) error {
	if w.closed {
		return errClosed
	}
	if w.err != nil {
		return fmt.Errorf("%w: %w", errFailed, w.err)
	}

	if len(values) != len(w.schema) {
		return fmt.Errorf("cstore: row has %d values, schema has %d columns", len(values), len(w.schema))
	}
	if nulls != nil && len(nulls) != len(w.schema) {
		return fmt.Errorf("cstore: row has %d null flags, schema has %d columns", len(nulls), len(w.schema))
	}
	for i, v := range values {
		if !isNull(values, nulls, i) && !checkValue(w.schema[i].Type, v) {
			return fmt.Errorf("cstore: column %d (%q) expects %v, got %T", i, w.schema[i].Name, w.schema[i].Type, v)
		}
	}

	for i, v := range values {
		w.blocks[i].add(v, isNull(values, nulls, i))
	}
	w.stripeRows++
	w.o.Metrics.addRowsWritten(1)

	if w.blocks[0].rows >= w.o.BlockRowCount {
		if err := w.sealBlock(); err != nil {
			return err
		}
	}
	if w.stripeRows >= w.o.StripeRowCount {
		return w.flushStripe()
	}
	return nil
}

// Footer returns the footer listing all sealed stripes.
func (w *Writer) Footer() *Footer {
	return &Footer{
		BlockRowCount: w.footer.BlockRowCount,
		Stripes:       append([]StripeMetadata(nil), w.footer.Stripes...),
	}
}

// Offset returns the current write offset.
func (w *Writer) Offset() int64 { return w.offset }

// Close flushes the last, possibly partial stripe. It does not write the
// footer, see Footer.
func (w *Writer) Close() error {
	if w.closed {
		return errClosed
	}
	w.closed = true

	if w.err != nil {
		return fmt.Errorf("%w: %w", errFailed, w.err)
	}
	return w.flushStripe()
}

func (w *Writer) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	return err
}

// sealBlock encodes the current block of every column and records its
// skip nodes.
func (w *Writer) sealBlock() error {
	for c := range w.blocks {
		b := &w.blocks[c]

		comp, out, err := compress(w.o.Compression, w.codec, w.buf, b.values)
		if err != nil {
			w.err = err
			return err
		}

		w.nodes[c] = append(w.nodes[c], SkipNode{
			RowCount:     b.rows,
			ExistsOffset: int64(len(w.exists[c])),
			ExistsLength: int64(len(b.exists)),
			ValueOffset:  int64(len(w.values[c])),
			ValueLength:  int64(len(out)),
			Compression:  comp,
			HasMinMax:    b.hasMinMax,
			Min:          b.min,
			Max:          b.max,
		})
		w.exists[c] = append(w.exists[c], b.exists...)
		w.values[c] = append(w.values[c], out...)

		if comp != NoCompression {
			w.buf = out[:0]
		}
		b.reset()
	}
	return nil
}

// flushStripe writes the buffered stripe: skip lists, then the exists and
// value streams of each column, then the stripe footer.
func (w *Writer) flushStripe() error {
	if w.stripeRows == 0 {
		return nil
	}
	if w.blocks[0].rows != 0 {
		if err := w.sealBlock(); err != nil {
			return err
		}
	}

	n := len(w.schema)
	sf := StripeFooter{
		SkipListSizes: make([]int64, n),
		ExistsSizes:   make([]int64, n),
		ValueSizes:    make([]int64, n),
	}

	// rebase stream offsets onto the data region
	var base int64
	for c := 0; c < n; c++ {
		sf.ExistsSizes[c] = int64(len(w.exists[c]))
		sf.ValueSizes[c] = int64(len(w.values[c]))

		for i := range w.nodes[c] {
			w.nodes[c][i].ExistsOffset += base
			w.nodes[c][i].ValueOffset += base + sf.ExistsSizes[c]
		}
		base += sf.ExistsSizes[c] + sf.ValueSizes[c]
	}

	w.tmp = w.tmp[:0]
	for c := 0; c < n; c++ {
		sz := len(w.tmp)
		w.tmp = appendSkipList(w.tmp, w.schema[c].Type, w.nodes[c])
		sf.SkipListSizes[c] = int64(len(w.tmp) - sz)
	}

	meta := StripeMetadata{
		FileOffset:     w.offset,
		SkipListLength: int64(len(w.tmp)),
		DataLength:     base,
	}
	if err := w.writeRaw(w.tmp); err != nil {
		w.err = err
		return err
	}
	for c := 0; c < n; c++ {
		if err := w.writeRaw(w.exists[c]); err != nil {
			w.err = err
			return err
		}
		if err := w.writeRaw(w.values[c]); err != nil {
			w.err = err
			return err
		}
	}

	w.tmp = sf.appendTo(w.tmp[:0])
	meta.FooterLength = int64(len(w.tmp))
	if err := w.writeRaw(w.tmp); err != nil {
		w.err = err
		return err
	}

	w.footer.Stripes = append(w.footer.Stripes, meta)
	w.o.Logger.Debug("stripe flushed",
		zap.Int("stripe", len(w.footer.Stripes)-1),
		zap.Int("rows", w.stripeRows),
		zap.Int("blocks", len(w.nodes[0])),
		zap.Int64("bytes", meta.End()-meta.FileOffset))
	w.o.Metrics.addStripeWritten(meta.End() - meta.FileOffset)

	for c := 0; c < n; c++ {
		w.exists[c] = w.exists[c][:0]
		w.values[c] = w.values[c][:0]
		w.nodes[c] = w.nodes[c][:0]
	}
	w.stripeRows = 0
	return nil
}

func isNull(values []interface{}, nulls []bool, i int) bool {
	return values[i] == nil || (nulls != nil && nulls[i])
}
