package cstore

// ColumnBlockData holds one decoded block of one column. Values[i] is
// undefined (nil) where Exists[i] is false.
type ColumnBlockData struct {
	Exists []bool
	Values []interface{}
}

// RowCount returns the number of rows in the block.
func (d *ColumnBlockData) RowCount() int { return len(d.Exists) }

func (d *ColumnBlockData) reset(rowCount int) {
	if cap(d.Exists) < rowCount {
		d.Exists = make([]bool, rowCount)
		d.Values = make([]interface{}, rowCount)
		return
	}
	d.Exists = d.Exists[:rowCount]
	d.Values = d.Values[:rowCount]
	for i := range d.Values {
		d.Values[i] = nil
	}
}

// decodeBlock decodes the exists bitmap and the uncompressed value stream of
// a block into d. The value stream must be consumed exactly.
func decodeBlock(d *ColumnBlockData, typ Type, rowCount int, exists, values []byte) error {
	if len(exists) != existsSize(rowCount) {
		return ErrLengthMismatch
	}

	d.reset(rowCount)
	pos := 0
	for i := 0; i < rowCount; i++ {
		if exists[i/8]&(1<<uint(i%8)) == 0 {
			d.Exists[i] = false
			continue
		}

		v, n, err := readValue(typ, values[pos:])
		if err != nil {
			return err
		}
		d.Exists[i] = true
		d.Values[i] = v
		pos += n
	}
	if pos != len(values) {
		return ErrLengthMismatch
	}
	return nil
}

func existsSize(rowCount int) int { return (rowCount + 7) / 8 }

// --------------------------------------------------------------------

// blockBuffer accumulates the rows of the current block of one column.
type blockBuffer struct {
	typ    Type
	rows   int
	exists []byte // bitmap, one bit per row
	values []byte // encoded non-null values

	hasMinMax bool
	min, max  interface{}
}

func (b *blockBuffer) add(v interface{}, null bool) {
	if b.rows%8 == 0 {
		b.exists = append(b.exists, 0)
	}
	if !null {
		b.exists[b.rows/8] |= 1 << uint(b.rows%8)
		b.values = appendValue(b.values, b.typ, v)
		b.updateMinMax(v)
	}
	b.rows++
}

func (b *blockBuffer) updateMinMax(v interface{}) {
	if !b.typ.Ordered() {
		return
	}
	if !b.hasMinMax {
		b.min, b.max, b.hasMinMax = v, v, true
		return
	}
	if compareValues(b.typ, v, b.min) < 0 {
		b.min = v
	}
	if compareValues(b.typ, v, b.max) > 0 {
		b.max = v
	}
}

func (b *blockBuffer) reset() {
	b.rows = 0
	b.exists = b.exists[:0]
	b.values = b.values[:0]
	b.hasMinMax = false
	b.min, b.max = nil, nil
}
