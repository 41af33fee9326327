package cstore

import (
	"encoding/binary"
	"fmt"
)

// SkipNode holds the statistics and stream locations of one block of one
// column. Offsets are relative to the start of the stripe's data region.
type SkipNode struct {
	RowCount     int
	ExistsOffset int64
	ExistsLength int64
	ValueOffset  int64
	ValueLength  int64
	Compression  Compression

	// HasMinMax is set when the column type is ordered and the block
	// contains at least one non-null value.
	HasMinMax bool
	Min, Max  interface{}
}

// SkipList is the [column][block] grid of skip nodes of a stripe, stored as
// a flat arena. Block b of every column covers the same rows.
type SkipList struct {
	Columns int
	Blocks  int
	Nodes   []SkipNode
}

// Node returns the node of a column block.
func (s *SkipList) Node(col, block int) *SkipNode {
	return &s.Nodes[col*s.Blocks+block]
}

// BlockRowCount returns the number of rows in a block.
func (s *SkipList) BlockRowCount(block int) int {
	if s.Columns == 0 {
		return 0
	}
	return s.Nodes[block].RowCount
}

// RowCount returns the total number of rows in the stripe.
func (s *SkipList) RowCount() int {
	n := 0
	for b := 0; b < s.Blocks; b++ {
		n += s.BlockRowCount(b)
	}
	return n
}

// Select returns the indexes of the blocks which cannot be proven to
// contain no rows matching all predicates.
func (s *SkipList) Select(schema Schema, preds []Predicate) []int {
	blocks := make([]int, 0, s.Blocks)
	for b := 0; b < s.Blocks; b++ {
		if refutedBy(s, schema, preds, b) < 0 {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// --------------------------------------------------------------------

func appendSkipList(dst []byte, typ Type, nodes []SkipNode) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(nodes)))
	for _, n := range nodes {
		dst = binary.AppendUvarint(dst, uint64(n.RowCount))
		dst = binary.AppendUvarint(dst, uint64(n.ExistsOffset))
		dst = binary.AppendUvarint(dst, uint64(n.ExistsLength))
		dst = binary.AppendUvarint(dst, uint64(n.ValueOffset))
		dst = binary.AppendUvarint(dst, uint64(n.ValueLength))
		dst = append(dst, byte(n.Compression))

		if !n.HasMinMax {
			dst = append(dst, 0)
			continue
		}
		dst = append(dst, 1)
		dst = appendStat(dst, typ, n.Min)
		dst = appendStat(dst, typ, n.Max)
	}
	return dst
}

func appendStat(dst []byte, typ Type, v interface{}) []byte {
	enc := appendValue(nil, typ, v)
	dst = binary.AppendUvarint(dst, uint64(len(enc)))
	return append(dst, enc...)
}

// parseSkipList decodes the skip list of one column, checking that block
// row counts do not exceed maxRows and that stream locations fall within a
// data region of dataLen bytes.
func parseSkipList(src []byte, typ Type, dataLen int64, maxRows int) ([]SkipNode, error) {
	r := &byteReader{p: src}

	count := r.uvarint()
	if r.err != nil || count > uint64(len(src)) {
		return nil, ErrCorrupt
	}

	nodes := make([]SkipNode, int(count))
	for i := range nodes {
		rowCount := r.uvarint()
		var loc [4]uint64 // exists offset/length, value offset/length
		for j := range loc {
			loc[j] = r.uvarint()
		}

		n := &nodes[i]
		n.Compression = Compression(r.readByte())
		if r.readByte() == 1 {
			n.HasMinMax = true
			n.Min = r.stat(typ)
			n.Max = r.stat(typ)
		}
		if r.err != nil {
			return nil, r.err
		}

		if rowCount < 1 || rowCount > uint64(maxRows) {
			return nil, fmt.Errorf("%w: block %d has %d rows", ErrCorrupt, i, rowCount)
		}
		if !n.Compression.isValid() {
			return nil, fmt.Errorf("%w: block %d has compression %d", ErrCorrupt, i, byte(n.Compression))
		}
		if !streamWithin(loc[0], loc[1], dataLen) || !streamWithin(loc[2], loc[3], dataLen) {
			return nil, fmt.Errorf("%w: block %d is out of bounds", ErrCorrupt, i)
		}

		n.RowCount = int(rowCount)
		n.ExistsOffset, n.ExistsLength = int64(loc[0]), int64(loc[1])
		n.ValueOffset, n.ValueLength = int64(loc[2]), int64(loc[3])
		if n.ExistsLength != int64(existsSize(n.RowCount)) {
			return nil, fmt.Errorf("%w: block %d is out of bounds", ErrCorrupt, i)
		}
	}
	if r.pos != len(src) {
		return nil, ErrCorrupt
	}
	return nodes, nil
}

// streamWithin returns true if off+n does not exceed limit.
func streamWithin(off, n uint64, limit int64) bool {
	if limit < 0 {
		return false
	}
	return n <= uint64(limit) && off <= uint64(limit)-n
}

// --------------------------------------------------------------------

// byteReader decodes varint sequences, recording the first error.
type byteReader struct {
	p   []byte
	pos int
	err error
}

func (r *byteReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	u, n := binary.Uvarint(r.p[r.pos:])
	if n <= 0 {
		r.err = ErrCorrupt
		return 0
	}
	r.pos += n
	return u
}

func (r *byteReader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.p) {
		r.err = ErrCorrupt
		return 0
	}
	b := r.p[r.pos]
	r.pos++
	return b
}

func (r *byteReader) stat(typ Type) interface{} {
	sz := r.uvarint()
	if r.err != nil {
		return nil
	}
	if sz > uint64(len(r.p)-r.pos) {
		r.err = ErrCorrupt
		return nil
	}

	end := r.pos + int(sz)
	v, n, err := readValue(typ, r.p[r.pos:end])
	if err != nil || n != int(sz) {
		r.err = ErrCorrupt
		return nil
	}
	r.pos = end
	return v
}
