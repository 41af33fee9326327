package cstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// StripeMetadata locates a sealed stripe within the data file.
type StripeMetadata struct {
	FileOffset     int64
	SkipListLength int64
	DataLength     int64
	FooterLength   int64
}

// End returns the offset of the first byte after the stripe.
func (m StripeMetadata) End() int64 {
	return m.FileOffset + m.SkipListLength + m.DataLength + m.FooterLength
}

// within returns true if the stripe starts at or after from and ends at or
// before size. Each length is checked separately, so that corrupt values
// cannot overflow.
func (m StripeMetadata) within(from, size int64) bool {
	if m.FileOffset < from || m.FileOffset > size {
		return false
	}
	rest := size - m.FileOffset
	for _, n := range []int64{m.SkipListLength, m.DataLength, m.FooterLength} {
		if n < 0 || n > rest {
			return false
		}
		rest -= n
	}
	return m.FooterLength > 0
}

func (m StripeMetadata) dataOffset() int64   { return m.FileOffset + m.SkipListLength }
func (m StripeMetadata) footerOffset() int64 { return m.dataOffset() + m.DataLength }

// Footer is the root index of a table.
type Footer struct {
	BlockRowCount int
	Stripes       []StripeMetadata
}

// validate checks that all stripes follow each other within a data file of
// the given size.
func (f *Footer) validate(size int64) error {
	if f.BlockRowCount < 1 || f.BlockRowCount > MaxBlockRowCount {
		return formatErr(0, fmt.Errorf("%w: block row count %d", ErrCorrupt, f.BlockRowCount))
	}

	end := int64(headerSize)
	for i, s := range f.Stripes {
		if !s.within(end, size) {
			return formatErr(size, fmt.Errorf("%w: stripe %d exceeds the data file", ErrCorrupt, i))
		}
		end = s.End()
	}
	return nil
}

// DataEnd returns the offset after the last sealed stripe.
func (f *Footer) DataEnd() int64 {
	if n := len(f.Stripes); n != 0 {
		return f.Stripes[n-1].End()
	}
	return headerSize
}

// MarshalBinary encodes the footer followed by the postscript and the
// postscript length.
func (f *Footer) MarshalBinary() ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(f.BlockRowCount))
	buf = binary.AppendUvarint(buf, uint64(len(f.Stripes)))
	for _, s := range f.Stripes {
		buf = binary.AppendUvarint(buf, uint64(s.FileOffset))
		buf = binary.AppendUvarint(buf, uint64(s.SkipListLength))
		buf = binary.AppendUvarint(buf, uint64(s.DataLength))
		buf = binary.AppendUvarint(buf, uint64(s.FooterLength))
	}
	footerLen := len(buf)

	buf = binary.AppendUvarint(buf, uint64(footerLen))
	buf = binary.AppendUvarint(buf, versionMajor)
	buf = binary.AppendUvarint(buf, versionMinor)
	buf = append(buf, magic...)
	buf = append(buf, byte(len(buf)-footerLen))
	return buf, nil
}

// UnmarshalBinary decodes a footer. Magic and version are validated before
// anything else.
func (f *Footer) UnmarshalBinary(data []byte) error {
	size := int64(len(data))
	if len(data) < 1+len(magic) {
		return formatErr(0, ErrCorrupt)
	}

	psLen := int(data[len(data)-1])
	psOffset := len(data) - 1 - psLen
	if psLen < 3+len(magic) || psOffset < 0 {
		return formatErr(size-1, ErrCorrupt)
	}
	ps := data[psOffset : len(data)-1]

	if !bytes.Equal(ps[len(ps)-len(magic):], magic) {
		return formatErr(size-1-int64(len(magic)), ErrBadMagic)
	}

	r := &byteReader{p: ps[:len(ps)-len(magic)]}
	footerLen := r.uvarint()
	major := r.uvarint()
	minor := r.uvarint()
	if r.err != nil || r.pos != len(r.p) {
		return formatErr(int64(psOffset), ErrCorrupt)
	}
	if major != versionMajor || minor > versionMinor {
		return formatErr(int64(psOffset), fmt.Errorf("%w %d.%d", ErrUnsupportedVersion, major, minor))
	}
	if footerLen != uint64(psOffset) {
		return formatErr(int64(psOffset), ErrCorrupt)
	}

	r = &byteReader{p: data[:psOffset]}
	blockRowCount := r.uvarint()
	count := r.uvarint()
	if r.err != nil || count > uint64(psOffset) || blockRowCount < 1 || blockRowCount > MaxBlockRowCount {
		return formatErr(0, ErrCorrupt)
	}

	stripes := make([]StripeMetadata, int(count))
	for i := range stripes {
		s := &stripes[i]
		s.FileOffset = int64(r.uvarint())
		s.SkipListLength = int64(r.uvarint())
		s.DataLength = int64(r.uvarint())
		s.FooterLength = int64(r.uvarint())
		if s.FileOffset < headerSize || s.SkipListLength < 0 || s.DataLength < 0 || s.FooterLength < 1 {
			return formatErr(int64(r.pos), ErrCorrupt)
		}
	}
	if r.err != nil || r.pos != len(r.p) {
		return formatErr(int64(r.pos), ErrCorrupt)
	}

	f.BlockRowCount = int(blockRowCount)
	f.Stripes = stripes
	return nil
}

// --------------------------------------------------------------------

// StripeFooter holds the per-column stream sizes of a stripe.
type StripeFooter struct {
	SkipListSizes []int64
	ExistsSizes   []int64
	ValueSizes    []int64
}

// ColumnCount returns the number of columns in the stripe.
func (f *StripeFooter) ColumnCount() int { return len(f.SkipListSizes) }

func (f *StripeFooter) appendTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(f.ColumnCount()))
	for i := range f.SkipListSizes {
		dst = binary.AppendUvarint(dst, uint64(f.SkipListSizes[i]))
		dst = binary.AppendUvarint(dst, uint64(f.ExistsSizes[i]))
		dst = binary.AppendUvarint(dst, uint64(f.ValueSizes[i]))
	}
	return dst
}

// parseStripeFooter decodes a stripe footer and checks its sizes against
// the stripe metadata.
func parseStripeFooter(src []byte, meta StripeMetadata) (*StripeFooter, error) {
	r := &byteReader{p: src}

	count := r.uvarint()
	if r.err != nil || count > uint64(len(src)) {
		return nil, ErrCorrupt
	}

	n := int(count)
	f := &StripeFooter{
		SkipListSizes: make([]int64, n),
		ExistsSizes:   make([]int64, n),
		ValueSizes:    make([]int64, n),
	}

	var skipTotal, dataTotal int64
	for i := 0; i < n; i++ {
		f.SkipListSizes[i] = int64(r.uvarint())
		f.ExistsSizes[i] = int64(r.uvarint())
		f.ValueSizes[i] = int64(r.uvarint())

		if f.SkipListSizes[i] < 0 || f.SkipListSizes[i] > meta.SkipListLength-skipTotal {
			return nil, ErrCorrupt
		}
		skipTotal += f.SkipListSizes[i]

		for _, sz := range []int64{f.ExistsSizes[i], f.ValueSizes[i]} {
			if sz < 0 || sz > meta.DataLength-dataTotal {
				return nil, ErrCorrupt
			}
			dataTotal += sz
		}
	}
	if r.err != nil || r.pos != len(src) {
		return nil, ErrCorrupt
	}
	if skipTotal != meta.SkipListLength || dataTotal != meta.DataLength {
		return nil, fmt.Errorf("%w: stream sizes do not match stripe metadata", ErrCorrupt)
	}
	return f, nil
}
