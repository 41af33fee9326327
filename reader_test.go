package cstore_test

import (
	"bytes"
	"errors"
	"math"
	"sync"

	"github.com/bsm/cstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Reader", func() {
	var tbl *memTable
	var rows [][]interface{}

	BeforeEach(func() {
		var err error
		rows = seedRows(1000)
		tbl, err = seedTable(testSchema, rows, &cstore.WriterOptions{
			Compression:    cstore.SnappyCompression,
			StripeRowCount: 300,
			BlockRowCount:  64,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should read all rows in order", func() {
		Expect(tbl.footer.Stripes).To(HaveLen(4))
		Expect(tbl.ReadAll(testSchema, testSchema.All(), nil, nil)).To(Equal(rows))
	})

	It("should read empty tables", func() {
		empty, err := seedTable(testSchema, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(empty.data).To(HaveLen(10))
		Expect(empty.footer.Stripes).To(BeEmpty())
		Expect(empty.ReadAll(testSchema, testSchema.All(), nil, nil)).To(BeEmpty())
	})

	It("should project columns", func() {
		Expect(tbl.ReadAll(testSchema, []int{8, 1, 1}, nil, nil)).To(Equal(project(rows, 1, 8)))
	})

	It("should read without projected columns", func() {
		cr := &countingReaderAt{r: bytes.NewReader(tbl.data)}
		r, err := cstore.NewReader(cr, int64(len(tbl.data)), tbl.footer, testSchema, []int{}, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		Expect(readRows(r.ReadNextRow, len(testSchema))).To(Equal(project(rows)))

		var overhead int64 = 10
		for _, s := range tbl.footer.Stripes {
			overhead += s.SkipListLength + s.FooterLength
		}
		Expect(cr.n).To(Equal(overhead))
	})

	It("should skip blocks", func() {
		metrics := cstore.NewMetrics("test")
		preds := []cstore.Predicate{
			{Column: 0, Op: cstore.GreaterEqual, Value: int64(500)},
			{Column: 0, Op: cstore.Less, Value: int64(520)},
		}

		res, err := tbl.ReadAll(testSchema, testSchema.All(), preds, &cstore.ReaderOptions{Metrics: metrics})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(64))
		Expect(res[0][0]).To(Equal(int64(492)))
		Expect(filter(testSchema, res, preds...)).To(Equal(filter(testSchema, rows, preds...)))

		// stripes of 300 rows hold 5 blocks each
		Expect(testutil.ToFloat64(metrics.BlocksRead)).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.BlocksSkipped)).To(Equal(16.0))
	})

	It("should keep blocks without statistics", func() {
		preds := []cstore.Predicate{{Column: 7, Op: cstore.Equal, Value: []byte("blob3")}}
		Expect(tbl.ReadAll(testSchema, testSchema.All(), preds, nil)).To(HaveLen(1000))

		preds = []cstore.Predicate{{Column: 1, Op: cstore.IsNull}}
		Expect(tbl.ReadAll(testSchema, testSchema.All(), preds, nil)).To(HaveLen(1000))
	})

	It("should return nothing when all blocks are refuted", func() {
		preds := []cstore.Predicate{{Column: 5, Op: cstore.Greater, Value: int32(7000)}}
		Expect(tbl.ReadAll(testSchema, testSchema.All(), preds, nil)).To(BeEmpty())
	})

	It("should support concurrent readers", func() {
		predSets := [][]cstore.Predicate{
			{{Column: 0, Op: cstore.Less, Value: int64(100)}},
			{{Column: 1, Op: cstore.Equal, Value: "name-000778"}},
			{{Column: 2, Op: cstore.GreaterEqual, Value: 300.0}, {Column: 4, Op: cstore.LessEqual, Value: int16(950)}},
			{{Column: 8, Op: cstore.Greater, Value: epoch.Add(900e9)}},
		}

		var wg sync.WaitGroup
		results := make([][][]interface{}, len(predSets))
		errs := make([]error, len(predSets))
		for i := range predSets {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer GinkgoRecover()

				res, err := tbl.ReadAll(testSchema, testSchema.All(), predSets[i], nil)
				results[i], errs[i] = filter(testSchema, res, predSets[i]...), err
			}(i)
		}
		wg.Wait()

		for i, preds := range predSets {
			Expect(errs[i]).NotTo(HaveOccurred())
			Expect(results[i]).To(Equal(filter(testSchema, rows, preds...)))
		}
		Expect(results[1]).To(HaveLen(1))
		Expect(results[3]).To(HaveLen(99))
	})

	It("should validate arguments", func() {
		_, err := tbl.Open(testSchema, []int{9}, nil, nil)
		Expect(err).To(MatchError(`cstore: projected column 9 is out of range`))

		_, err = tbl.Open(testSchema, nil, []cstore.Predicate{{Column: -1}}, nil)
		Expect(err).To(MatchError(`cstore: predicate column -1 is out of range`))

		r, err := tbl.Open(testSchema, nil, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = r.ReadNextRow(make([]interface{}, 2), nil)
		Expect(err).To(MatchError(`cstore: row buffers must have 9 slots`))
		Expect(r.Close()).To(Succeed())

		_, err = r.ReadNextRow(make([]interface{}, 9), nil)
		Expect(err).To(MatchError(`cstore: is closed`))
	})

	It("should reject foreign data", func() {
		data := append([]byte("notatable!"), tbl.data[10:]...)
		_, err := cstore.NewReader(bytes.NewReader(data), int64(len(data)), tbl.footer, testSchema, nil, nil, nil)
		Expect(errors.Is(err, cstore.ErrBadMagic)).To(BeTrue())
		Expect(err).To(MatchError(`cstore: bad magic byte sequence at offset 0`))

		data = append([]byte{}, tbl.data...)
		data[8] = 9
		_, err = cstore.NewReader(bytes.NewReader(data), int64(len(data)), tbl.footer, testSchema, nil, nil, nil)
		Expect(errors.Is(err, cstore.ErrUnsupportedVersion)).To(BeTrue())

		_, err = cstore.NewReader(bytes.NewReader(data[:4]), 4, tbl.footer, testSchema, nil, nil, nil)
		Expect(errors.Is(err, cstore.ErrCorrupt)).To(BeTrue())
	})

	It("should reject schema mismatches", func() {
		res, err := tbl.ReadAll(testSchema[:3], []int{0}, nil, nil)
		Expect(res).To(BeEmpty())
		Expect(errors.Is(err, cstore.ErrCorrupt)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(`stripe has 9 columns, schema has 3`))

		var fe *cstore.FormatError
		Expect(errors.As(err, &fe)).To(BeTrue())
		Expect(fe.Offset).To(Equal(tbl.footer.Stripes[0].End() - tbl.footer.Stripes[0].FooterLength))
	})

	It("should detect truncated data", func() {
		data := tbl.data[:len(tbl.data)-20]
		_, err := cstore.NewReader(bytes.NewReader(data), int64(len(data)), tbl.footer, testSchema, testSchema.All(), nil, nil)
		Expect(errors.Is(err, cstore.ErrCorrupt)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring(`stripe 3 exceeds the data file`)))

		// a size which is reported too large is caught while reading
		r, err := cstore.NewReader(bytes.NewReader(data), int64(len(tbl.data)), tbl.footer, testSchema, testSchema.All(), nil, nil)
		Expect(err).NotTo(HaveOccurred())

		res, err := readRows(r.ReadNextRow, len(testSchema))
		Expect(res).To(HaveLen(900))
		Expect(errors.Is(err, cstore.ErrCorrupt)).To(BeTrue())

		_, err2 := r.ReadNextRow(make([]interface{}, 9), nil)
		Expect(err2).To(Equal(err))
	})

	It("should reject corrupt lengths", func() {
		size := int64(len(tbl.data))
		open := func(stripes ...cstore.StripeMetadata) error {
			footer := &cstore.Footer{BlockRowCount: tbl.footer.BlockRowCount, Stripes: stripes}
			_, err := cstore.NewReader(bytes.NewReader(tbl.data), size, footer, testSchema, testSchema.All(), nil, nil)
			return err
		}

		meta := tbl.footer.Stripes[0]
		Expect(open(meta)).To(Succeed())

		huge := meta
		huge.FooterLength = 1 << 60
		Expect(errors.Is(open(huge), cstore.ErrCorrupt)).To(BeTrue())

		overflow := meta
		overflow.SkipListLength = math.MaxInt64 - 5
		overflow.DataLength = 10
		Expect(errors.Is(open(overflow), cstore.ErrCorrupt)).To(BeTrue())

		past := meta
		past.FileOffset = size
		Expect(errors.Is(open(past), cstore.ErrCorrupt)).To(BeTrue())

		// stripes must not overlap
		Expect(errors.Is(open(meta, meta), cstore.ErrCorrupt)).To(BeTrue())

		footer := &cstore.Footer{BlockRowCount: 0, Stripes: tbl.footer.Stripes}
		_, err := cstore.NewReader(bytes.NewReader(tbl.data), size, footer, testSchema, nil, nil, nil)
		Expect(errors.Is(err, cstore.ErrCorrupt)).To(BeTrue())
	})

	It("should reject skip nodes with more rows than a block", func() {
		footer := &cstore.Footer{BlockRowCount: 32, Stripes: tbl.footer.Stripes}
		r, err := cstore.NewReader(bytes.NewReader(tbl.data), int64(len(tbl.data)), footer, testSchema, testSchema.All(), nil, nil)
		Expect(err).NotTo(HaveOccurred())

		_, _, err = r.LoadSkipList(0)
		Expect(errors.Is(err, cstore.ErrCorrupt)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring(`block 0 has 64 rows`)))
	})

	It("should detect corrupt blocks", func() {
		meta := tbl.footer.Stripes[0]
		r, err := tbl.Open(testSchema, nil, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		sl, _, err := r.LoadSkipList(0)
		Expect(err).NotTo(HaveOccurred())

		node := sl.Node(1, 0)
		Expect(node.Compression).To(Equal(cstore.SnappyCompression))

		data := append([]byte{}, tbl.data...)
		data[meta.FileOffset+meta.SkipListLength+node.ValueOffset] ^= 0xff

		corrupt := &memTable{data: data, footer: tbl.footer}
		_, err = corrupt.ReadAll(testSchema, []int{1}, nil, nil)
		Expect(errors.Is(err, cstore.ErrCorrupt) || errors.Is(err, cstore.ErrLengthMismatch)).To(BeTrue())

		_, err = corrupt.ReadAll(testSchema, []int{0}, nil, nil)
		Expect(err).NotTo(HaveOccurred())
	})
})

// --------------------------------------------------------------------

type countingReaderAt struct {
	r  *bytes.Reader
	mu sync.Mutex
	n  int64
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, off)
	c.mu.Lock()
	c.n += int64(n)
	c.mu.Unlock()
	return n, err
}
