package cstore_test

import (
	"errors"

	"github.com/bsm/cstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseTableOptions", func() {
	It("should apply defaults", func() {
		opts, err := cstore.ParseTableOptions(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(opts).To(Equal(&cstore.TableOptions{
			Compression:    cstore.NoCompression,
			StripeRowCount: 150000,
			BlockRowCount:  10000,
		}))
	})

	It("should parse", func() {
		opts, err := cstore.ParseTableOptions(map[string]string{
			"compression":      "enc_lz4",
			"stripe_row_count": "1000",
			"block_row_count":  "100000",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(opts.WriterOptions()).To(Equal(&cstore.WriterOptions{
			Compression:    cstore.EncLZ4Compression,
			StripeRowCount: 1000,
			BlockRowCount:  100000,
		}))
	})

	It("should reject invalid values", func() {
		_, err := cstore.ParseTableOptions(map[string]string{"compression": "pglz"})
		Expect(err).To(MatchError(`cstore: invalid compression pglz, must be one of none, snappy, lz4, enc_lz4`))
		Expect(errors.Is(err, cstore.ErrInvalidCompression)).To(BeTrue())

		_, err = cstore.ParseTableOptions(map[string]string{"stripe_row_count": "999"})
		Expect(err).To(MatchError(`cstore: invalid stripe_row_count 999, must be between 1000 and 10000000`))

		_, err = cstore.ParseTableOptions(map[string]string{"block_row_count": "many"})
		Expect(err).To(MatchError(`cstore: invalid block_row_count many, must be between 1000 and 100000`))

		_, err = cstore.ParseTableOptions(map[string]string{"filename": "x"})
		Expect(err).To(MatchError(`cstore: invalid option filename, valid options are compression, stripe_row_count, block_row_count`))
	})
})

var _ = Describe("Compression", func() {
	It("should parse and format", func() {
		for _, name := range []string{"none", "snappy", "lz4", "enc_lz4"} {
			c, err := cstore.ParseCompression(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.String()).To(Equal(name))
		}

		c, err := cstore.ParseCompression("LZ4")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(cstore.LZ4Compression))
		Expect(cstore.Compression(9).String()).To(Equal("Compression(9)"))
	})
})

var _ = Describe("Schema", func() {
	It("should parse types", func() {
		for _, name := range []string{"bool", "int16", "int32", "int64", "float32", "float64", "string", "bytes", "timestamp"} {
			t, err := cstore.ParseType(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.String()).To(Equal(name))
		}
		_, err := cstore.ParseType("decimal")
		Expect(err).To(MatchError(`cstore: unknown type "decimal"`))

		Expect(cstore.TypeBytes.Ordered()).To(BeFalse())
		Expect(cstore.TypeTimestamp.Ordered()).To(BeTrue())
		Expect(cstore.Type(0).Ordered()).To(BeFalse())
	})

	It("should look up columns", func() {
		Expect(testSchema.Index("score")).To(Equal(2))
		Expect(testSchema.Index("missing")).To(Equal(-1))
		Expect(testSchema.All()).To(Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8}))
	})

	It("should reject invalid types", func() {
		_, err := cstore.NewWriter(nil, 1, nil, cstore.Schema{{Name: "x", Type: 42}}, nil)
		Expect(err).To(MatchError(`cstore: column 0 ("x") has invalid type Type(42)`))
	})
})
