package cstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Reader instances iterate over the rows of a table, decoding one block
// of each projected column at a time and skipping blocks which the
// predicates rule out. A Reader is not safe for concurrent use, but any
// number of readers may share the same io.ReaderAt.
type Reader struct {
	r      io.ReaderAt
	o      *ReaderOptions
	schema Schema
	footer *Footer
	preds  []Predicate

	projected []int  // sorted column indexes
	isProj    []bool // per column
	codecs    [unknownCompression]codec

	stripe int // the next stripe to load
	meta   StripeMetadata
	sl     *SkipList
	blocks []int // selected blocks of the current stripe
	bpos   int   // the next position in blocks
	row    int   // the next row in the current block
	rows   int   // the number of rows in the current block

	data []ColumnBlockData // the current block, per column

	err    error
	closed bool
}

// NewReader opens a reader over a data file of the given size and its
// footer. Only the
// projected columns are decoded, all others are returned as null. Blocks
// whose statistics refute any of the predicates are skipped; rows of the
// remaining blocks are returned unfiltered.
func NewReader(r io.ReaderAt, size int64, footer *Footer, schema Schema, projected []int, preds []Predicate, o *ReaderOptions) (*Reader, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	for _, c := range projected {
		if c < 0 || c >= len(schema) {
			return nil, fmt.Errorf("cstore: projected column %d is out of range", c)
		}
	}
	for _, p := range preds {
		if p.Column < 0 || p.Column >= len(schema) {
			return nil, fmt.Errorf("cstore: predicate column %d is out of range", p.Column)
		}
	}

	if err := checkHeader(r); err != nil {
		return nil, err
	}
	if err := footer.validate(size); err != nil {
		return nil, err
	}

	rd := &Reader{
		r:      r,
		o:      o.norm(),
		schema: schema,
		footer: footer,
		preds:  preds,
		isProj: make([]bool, len(schema)),
		data:   make([]ColumnBlockData, len(schema)),
	}
	for _, c := range projected {
		if !rd.isProj[c] {
			rd.isProj[c] = true
			rd.projected = append(rd.projected, c)
		}
	}
	sort.Ints(rd.projected)
	return rd, nil
}

func checkHeader(r io.ReaderAt) error {
	hdr := make([]byte, headerSize)
	if err := readAt(r, hdr, 0); err != nil {
		return err
	}

	if !bytes.Equal(hdr[:len(magic)], magic) {
		return formatErr(0, ErrBadMagic)
	}
	if major, minor := hdr[len(magic)], hdr[len(magic)+1]; major != versionMajor || minor > versionMinor {
		return formatErr(int64(len(magic)), fmt.Errorf("%w %d.%d", ErrUnsupportedVersion, major, minor))
	}
	return nil
}

// Footer returns the table footer.
func (r *Reader) Footer() *Footer { return r.footer }

// ReadNextRow reads the next row into values and nulls, which must have one
// slot per schema column; nulls may be nil. It returns false once all rows
// were read.
func (r *Reader) ReadNextRow(values []interface{}, nulls []bool) (bool, error) {
	if r.closed {
		return false, errClosed
	}
	if r.err != nil {
		return false, r.err
	}
	if len(values) != len(r.schema) || (nulls != nil && len(nulls) != len(r.schema)) {
		return false, fmt.Errorf("cstore: row buffers must have %d slots", len(r.schema))
	}

	for r.row >= r.rows {
		ok, err := r.nextBlock()
		if err != nil {
			r.err = err
			return false, err
		} else if !ok {
			return false, nil
		}
	}

	for c := range r.schema {
		var v interface{}
		null := true
		if r.isProj[c] {
			d := &r.data[c]
			if d.Exists[r.row] {
				v, null = d.Values[r.row], false
			}
		}
		values[c] = v
		if nulls != nil {
			nulls[c] = null
		}
	}
	r.row++
	return true, nil
}

// Close releases the reader. It does not close the underlying io.ReaderAt.
func (r *Reader) Close() error {
	if r.closed {
		return errClosed
	}
	r.closed = true
	r.data = nil
	r.sl = nil
	return nil
}

// LoadSkipList reads the stripe footer and skip list of the n-th stripe.
func (r *Reader) LoadSkipList(n int) (*SkipList, *StripeFooter, error) {
	if n < 0 || n >= len(r.footer.Stripes) {
		return nil, nil, fmt.Errorf("cstore: stripe %d is out of range", n)
	}
	return loadSkipList(r.r, r.footer.Stripes[n], r.footer.BlockRowCount, r.schema)
}

func (r *Reader) nextBlock() (bool, error) {
	for r.sl == nil || r.bpos >= len(r.blocks) {
		if r.stripe >= len(r.footer.Stripes) {
			return false, nil
		}
		if err := r.loadStripe(r.stripe); err != nil {
			return false, err
		}
		r.stripe++
	}

	b := r.blocks[r.bpos]
	r.bpos++
	if err := r.loadBlock(b); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reader) loadStripe(n int) error {
	meta := r.footer.Stripes[n]
	sl, _, err := loadSkipList(r.r, meta, r.footer.BlockRowCount, r.schema)
	if err != nil {
		return err
	}

	r.meta = meta
	r.sl = sl
	r.blocks = sl.Select(r.schema, r.preds)
	r.bpos = 0

	skipped := sl.Blocks - len(r.blocks)
	r.o.Metrics.addBlocksSkipped(skipped)
	r.o.Logger.Debug("stripe loaded",
		zap.Int("stripe", n),
		zap.Int("blocks", sl.Blocks),
		zap.Int("skipped", skipped))
	return nil
}

func readStripeFooter(r io.ReaderAt, meta StripeMetadata) (*StripeFooter, error) {
	buf := fetchBuffer(int(meta.FooterLength))
	defer releaseBuffer(buf)

	if err := readAt(r, buf, meta.footerOffset()); err != nil {
		return nil, err
	}
	sf, err := parseStripeFooter(buf, meta)
	if err != nil {
		return nil, formatErr(meta.footerOffset(), err)
	}
	return sf, nil
}

func loadSkipList(r io.ReaderAt, meta StripeMetadata, maxRows int, schema Schema) (*SkipList, *StripeFooter, error) {
	sf, err := readStripeFooter(r, meta)
	if err != nil {
		return nil, nil, err
	}
	if sf.ColumnCount() != len(schema) {
		return nil, nil, formatErr(meta.footerOffset(), fmt.Errorf("%w: stripe has %d columns, schema has %d", ErrCorrupt, sf.ColumnCount(), len(schema)))
	}

	raw := fetchBuffer(int(meta.SkipListLength))
	defer releaseBuffer(raw)

	if err := readAt(r, raw, meta.FileOffset); err != nil {
		return nil, nil, err
	}

	sl := &SkipList{Columns: len(schema)}
	pos := int64(0)
	for c := range schema {
		end := pos + sf.SkipListSizes[c]
		nodes, err := parseSkipList(raw[pos:end], schema[c].Type, meta.DataLength, maxRows)
		if err != nil {
			return nil, nil, formatErr(meta.FileOffset+pos, err)
		}

		if c == 0 {
			sl.Blocks = len(nodes)
			sl.Nodes = make([]SkipNode, 0, len(schema)*len(nodes))
		} else if len(nodes) != sl.Blocks {
			return nil, nil, formatErr(meta.FileOffset+pos, fmt.Errorf("%w: column %d has %d blocks, expected %d", ErrCorrupt, c, len(nodes), sl.Blocks))
		}
		for b := 0; c > 0 && b < len(nodes); b++ {
			if nodes[b].RowCount != sl.Nodes[b].RowCount {
				return nil, nil, formatErr(meta.FileOffset+pos, fmt.Errorf("%w: column %d block %d row count mismatch", ErrCorrupt, c, b))
			}
		}
		sl.Nodes = append(sl.Nodes, nodes...)
		pos = end
	}
	return sl, sf, nil
}

func (r *Reader) loadBlock(b int) error {
	r.rows = r.sl.BlockRowCount(b)
	r.row = 0

	base := r.meta.dataOffset()
	for _, c := range r.projected {
		node := r.sl.Node(c, b)

		cd, err := r.codec(node.Compression)
		if err != nil {
			return err
		}

		exists := fetchBuffer(int(node.ExistsLength))
		if err := readAt(r.r, exists, base+node.ExistsOffset); err != nil {
			releaseBuffer(exists)
			return err
		}

		raw := fetchBuffer(int(node.ValueLength))
		if err := readAt(r.r, raw, base+node.ValueOffset); err != nil {
			releaseBuffer(exists)
			releaseBuffer(raw)
			return err
		}

		var values []byte
		if node.Compression == NoCompression {
			values = raw
		} else if values, err = cd.decode(nil, raw); err != nil {
			releaseBuffer(exists)
			releaseBuffer(raw)
			return formatErr(base+node.ValueOffset, err)
		}

		err = decodeBlock(&r.data[c], r.schema[c].Type, node.RowCount, exists, values)
		releaseBuffer(exists)
		releaseBuffer(raw)
		if err != nil {
			return formatErr(base+node.ValueOffset, err)
		}
	}
	r.o.Metrics.addBlocksRead(1)
	return nil
}

func (r *Reader) codec(c Compression) (codec, error) {
	if cd := r.codecs[c]; cd != nil {
		return cd, nil
	}
	cd, err := newCodec(c, r.o.EncryptionKey)
	if err != nil {
		return nil, err
	}
	r.codecs[c] = cd
	return cd, nil
}

func readAt(r io.ReaderAt, p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatErr(off, ErrCorrupt)
	}
	return err
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
