package cstore_test

import (
	"math"
	"math/rand"
	"time"

	"github.com/bsm/cstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Predicate", func() {
	DescribeTable("Refutes",
		func(op cstore.Op, v interface{}, refuted bool) {
			p := cstore.Predicate{Op: op, Value: v}
			Expect(p.Refutes(cstore.TypeInt64, int64(10), int64(20))).To(Equal(refuted))
		},
		Entry("= below", cstore.Equal, int64(9), true),
		Entry("= min", cstore.Equal, int64(10), false),
		Entry("= max", cstore.Equal, int64(20), false),
		Entry("= above", cstore.Equal, int64(21), true),
		Entry("< min", cstore.Less, int64(10), true),
		Entry("< above min", cstore.Less, int64(11), false),
		Entry("<= below min", cstore.LessEqual, int64(9), true),
		Entry("<= min", cstore.LessEqual, int64(10), false),
		Entry("> max", cstore.Greater, int64(20), true),
		Entry("> below max", cstore.Greater, int64(19), false),
		Entry(">= above max", cstore.GreaterEqual, int64(21), true),
		Entry(">= max", cstore.GreaterEqual, int64(20), false),
		Entry("!=", cstore.NotEqual, int64(15), false),
		Entry("IS NULL", cstore.IsNull, nil, false),
		Entry("IS NOT NULL", cstore.IsNotNull, nil, false),
		Entry("type mismatch", cstore.Equal, int32(5), false),
		Entry("nil value", cstore.Equal, nil, false),
	)

	It("should never refute unordered types", func() {
		p := cstore.Predicate{Op: cstore.Equal, Value: []byte("z")}
		Expect(p.Refutes(cstore.TypeBytes, []byte("a"), []byte("b"))).To(BeFalse())
	})

	It("should compare per type", func() {
		t0 := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
		Expect(cstore.Predicate{Op: cstore.Greater, Value: t0}.Refutes(cstore.TypeTimestamp, t0.Add(-time.Hour), t0)).To(BeTrue())
		Expect(cstore.Predicate{Op: cstore.Equal, Value: "m"}.Refutes(cstore.TypeString, "a", "l")).To(BeTrue())
		Expect(cstore.Predicate{Op: cstore.Equal, Value: true}.Refutes(cstore.TypeBool, false, false)).To(BeTrue())
		Expect(cstore.Predicate{Op: cstore.Less, Value: float32(1.5)}.Refutes(cstore.TypeFloat32, float32(1.5), float32(9))).To(BeTrue())
		Expect(cstore.Predicate{Op: cstore.Equal, Value: math.NaN()}.Refutes(cstore.TypeFloat64, math.NaN(), 4.0)).To(BeFalse())
		Expect(cstore.Predicate{Op: cstore.Less, Value: 0.0}.Refutes(cstore.TypeFloat64, math.NaN(), 4.0)).To(BeFalse())
	})

	It("should match values", func() {
		p := cstore.Predicate{Op: cstore.GreaterEqual, Value: int16(3)}
		Expect(p.Match(cstore.TypeInt16, int16(3), false)).To(BeTrue())
		Expect(p.Match(cstore.TypeInt16, int16(2), false)).To(BeFalse())
		Expect(p.Match(cstore.TypeInt16, nil, true)).To(BeFalse())

		Expect(cstore.Predicate{Op: cstore.IsNull}.Match(cstore.TypeInt16, nil, true)).To(BeTrue())
		Expect(cstore.Predicate{Op: cstore.IsNotNull}.Match(cstore.TypeInt16, nil, true)).To(BeFalse())
		Expect(cstore.Predicate{Op: cstore.NotEqual, Value: []byte("a")}.Match(cstore.TypeBytes, []byte("b"), false)).To(BeTrue())
		Expect(cstore.Predicate{Op: cstore.Less, Value: []byte("a")}.Match(cstore.TypeBytes, []byte("b"), false)).To(BeFalse())
	})

	It("should format", func() {
		Expect(cstore.Predicate{Column: 2, Op: cstore.LessEqual, Value: 4}.String()).To(Equal("$2 <= 4"))
		Expect(cstore.Predicate{Column: 1, Op: cstore.IsNull}.String()).To(Equal("$1 IS NULL"))
	})

	It("should never prune matching blocks", func() {
		rnd := rand.New(rand.NewSource(33))
		ops := []cstore.Op{cstore.Equal, cstore.NotEqual, cstore.Less, cstore.LessEqual, cstore.Greater, cstore.GreaterEqual}

		for i := 0; i < 2000; i++ {
			block := make([]int64, 1+rnd.Intn(8))
			min, max := int64(math.MaxInt64), int64(math.MinInt64)
			for j := range block {
				block[j] = rnd.Int63n(50)
				if block[j] < min {
					min = block[j]
				}
				if block[j] > max {
					max = block[j]
				}
			}

			p := cstore.Predicate{Op: ops[rnd.Intn(len(ops))], Value: rnd.Int63n(60) - 5}
			if !p.Refutes(cstore.TypeInt64, min, max) {
				continue
			}
			for _, v := range block {
				Expect(p.Match(cstore.TypeInt64, v, false)).To(BeFalse(), "%v refuted [%d, %d] but matches %d", p, min, max, v)
			}
		}
	})
})

var _ = Describe("SkipList", func() {
	It("should select blocks", func() {
		schema := cstore.Schema{{Name: "a", Type: cstore.TypeInt32}, {Name: "b", Type: cstore.TypeString}}
		sl := &cstore.SkipList{
			Columns: 2,
			Blocks:  3,
			Nodes: []cstore.SkipNode{
				{RowCount: 4, HasMinMax: true, Min: int32(0), Max: int32(9)},
				{RowCount: 4, HasMinMax: true, Min: int32(10), Max: int32(19)},
				{RowCount: 2},
				{RowCount: 4, HasMinMax: true, Min: "a", Max: "c"},
				{RowCount: 4, HasMinMax: true, Min: "d", Max: "f"},
				{RowCount: 2, HasMinMax: true, Min: "a", Max: "z"},
			},
		}
		Expect(sl.RowCount()).To(Equal(10))
		Expect(sl.BlockRowCount(2)).To(Equal(2))
		Expect(sl.Node(1, 1).Min).To(Equal("d"))

		Expect(sl.Select(schema, nil)).To(Equal([]int{0, 1, 2}))
		Expect(sl.Select(schema, []cstore.Predicate{
			{Column: 0, Op: cstore.Greater, Value: int32(12)},
		})).To(Equal([]int{1, 2}))
		Expect(sl.Select(schema, []cstore.Predicate{
			{Column: 0, Op: cstore.Less, Value: int32(12)},
			{Column: 1, Op: cstore.Equal, Value: "b"},
		})).To(Equal([]int{0, 2}))
		Expect(sl.Select(schema, []cstore.Predicate{
			{Column: 1, Op: cstore.Equal, Value: "zz"},
		})).To(BeEmpty())
	})
})
