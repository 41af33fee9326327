package cstore_test

import (
	"errors"

	"github.com/bsm/cstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Footer", func() {
	subject := &cstore.Footer{
		BlockRowCount: 10000,
		Stripes: []cstore.StripeMetadata{
			{FileOffset: 10, SkipListLength: 120, DataLength: 40000, FooterLength: 12},
			{FileOffset: 40142, SkipListLength: 80, DataLength: 300, FooterLength: 12},
		},
	}

	It("should encode", func() {
		data, err := subject.MarshalBinary()
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(HaveLen(28))
		Expect(data[len(data)-9 : len(data)-1]).To(Equal([]byte("cstore\xC5\x7A")))
		Expect(data[len(data)-1]).To(Equal(byte(11)))

		decoded := new(cstore.Footer)
		Expect(decoded.UnmarshalBinary(data)).To(Succeed())
		Expect(decoded).To(Equal(subject))
		Expect(decoded.DataEnd()).To(Equal(int64(40534)))
	})

	It("should encode empty", func() {
		data, err := (&cstore.Footer{BlockRowCount: 5}).MarshalBinary()
		Expect(err).NotTo(HaveOccurred())

		decoded := new(cstore.Footer)
		Expect(decoded.UnmarshalBinary(data)).To(Succeed())
		Expect(decoded.Stripes).To(BeEmpty())
		Expect(decoded.BlockRowCount).To(Equal(5))
		Expect(decoded.DataEnd()).To(Equal(int64(10)))
	})

	It("should distinguish errors", func() {
		data, err := subject.MarshalBinary()
		Expect(err).NotTo(HaveOccurred())
		decoded := new(cstore.Footer)

		bad := append([]byte{}, data...)
		bad[len(bad)-3] = 'x'
		Expect(errors.Is(decoded.UnmarshalBinary(bad), cstore.ErrBadMagic)).To(BeTrue())

		bad = append([]byte{}, data...)
		bad[len(bad)-11] = 2 // major version
		err = decoded.UnmarshalBinary(bad)
		Expect(errors.Is(err, cstore.ErrUnsupportedVersion)).To(BeTrue())
		Expect(err).To(MatchError(`cstore: unsupported version 2.1 at offset 16`))

		bad = append([]byte{}, data...)
		bad[len(bad)-10] = 0 // older minor version
		Expect(decoded.UnmarshalBinary(bad)).To(Succeed())
		bad[len(bad)-10] = 3
		Expect(errors.Is(decoded.UnmarshalBinary(bad), cstore.ErrUnsupportedVersion)).To(BeTrue())

		Expect(errors.Is(decoded.UnmarshalBinary(data[4:]), cstore.ErrCorrupt)).To(BeTrue())
		Expect(errors.Is(decoded.UnmarshalBinary(data[:5]), cstore.ErrCorrupt)).To(BeTrue())
		Expect(errors.Is(decoded.UnmarshalBinary(nil), cstore.ErrCorrupt)).To(BeTrue())
	})
})
