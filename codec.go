package cstore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/chacha20poly1305"
)

// codec compresses and decompresses value streams of a single compression kind.
type codec interface {
	// encode encodes src, reusing the storage of dst when large enough.
	encode(dst, src []byte) ([]byte, error)
	// decode decodes src, reusing the storage of dst when large enough.
	decode(dst, src []byte) ([]byte, error)
	// headerSize is the fixed framing overhead of every encoded stream.
	headerSize() int
}

var errIncompressible = errors.New("cstore: incompressible")

func newCodec(c Compression, key []byte) (codec, error) {
	switch c {
	case NoCompression:
		return noneCodec{}, nil
	case SnappyCompression:
		return snappyCodec{}, nil
	case LZ4Compression:
		return lz4Codec{}, nil
	case EncLZ4Compression:
		if len(key) != EncryptionKeySize {
			return nil, errNoKey
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		return &encLZ4Codec{aead: aead}, nil
	}
	return nil, fmt.Errorf("%w %d", ErrInvalidCompression, byte(c))
}

// compress encodes src with cd. Output which does not shrink the input is
// discarded and src is stored uncompressed instead, except for encrypted
// streams, which must never be stored in plain.
func compress(c Compression, cd codec, dst, src []byte) (Compression, []byte, error) {
	if c == EncLZ4Compression {
		out, err := cd.encode(dst[:0], src)
		return c, out, err
	}
	if c == NoCompression || len(src) == 0 {
		return NoCompression, src, nil
	}

	out, err := cd.encode(dst[:0], src)
	if errors.Is(err, errIncompressible) {
		return NoCompression, src, nil
	} else if err != nil {
		return c, nil, err
	}
	if len(out) >= len(src) {
		return NoCompression, src, nil
	}
	return c, out, nil
}

// --------------------------------------------------------------------

type noneCodec struct{}

func (noneCodec) encode(dst, src []byte) ([]byte, error) { return append(dst[:0], src...), nil }
func (noneCodec) decode(dst, src []byte) ([]byte, error) { return append(dst[:0], src...), nil }
func (noneCodec) headerSize() int                        { return 0 }

// --------------------------------------------------------------------

type snappyCodec struct{}

func (snappyCodec) encode(dst, src []byte) ([]byte, error) {
	return snappy.Encode(dst[:cap(dst)], src), nil
}

func (snappyCodec) decode(dst, src []byte) ([]byte, error) {
	sz, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	out, err := snappy.Decode(grow(dst, sz), src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(out) != sz {
		return nil, ErrLengthMismatch
	}
	return out, nil
}

func (snappyCodec) headerSize() int { return 0 }

// --------------------------------------------------------------------

const lz4HeaderSize = 8

type lz4Codec struct{}

func (lz4Codec) encode(dst, src []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(src))
	out := grow(dst, lz4HeaderSize+bound)

	n, err := lz4.CompressBlock(src, out[lz4HeaderSize:], nil)
	if err != nil {
		return nil, err
	} else if n == 0 {
		return nil, errIncompressible
	}

	binary.LittleEndian.PutUint32(out[0:], uint32(len(src)))
	binary.LittleEndian.PutUint32(out[4:], uint32(n))
	return out[:lz4HeaderSize+n], nil
}

func (c lz4Codec) decode(dst, src []byte) ([]byte, error) {
	if len(src) < c.headerSize() {
		return nil, ErrCorrupt
	}

	srcLen := int(binary.LittleEndian.Uint32(src[0:]))
	compLen := int(binary.LittleEndian.Uint32(src[4:]))
	if compLen != len(src)-lz4HeaderSize {
		return nil, ErrLengthMismatch
	}
	return lz4Decode(dst, src[lz4HeaderSize:], srcLen)
}

func (lz4Codec) headerSize() int { return lz4HeaderSize }

func lz4Decode(dst, src []byte, srcLen int) ([]byte, error) {
	out := grow(dst, srcLen)
	n, err := lz4.UncompressBlock(src, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n != srcLen {
		return nil, ErrLengthMismatch
	}
	return out, nil
}

// --------------------------------------------------------------------

const (
	encHeaderSize = chacha20poly1305.NonceSizeX + 5

	encInnerLZ4 = 1
	encInnerRaw = 0
)

// encLZ4Codec compresses with LZ4 and seals the result with
// XChaCha20-Poly1305. The header is authenticated as additional data.
type encLZ4Codec struct {
	aead cipher.AEAD
}

func (c *encLZ4Codec) encode(dst, src []byte) ([]byte, error) {
	var hdr [encHeaderSize]byte
	nonce := hdr[:chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(hdr[chacha20poly1305.NonceSizeX:], uint32(len(src)))

	inner := src
	hdr[encHeaderSize-1] = encInnerRaw
	if len(src) != 0 {
		if packed, err := (lz4Codec{}).encode(nil, src); err == nil && len(packed) < len(src) {
			inner = packed[lz4HeaderSize:]
			hdr[encHeaderSize-1] = encInnerLZ4
		} else if err != nil && !errors.Is(err, errIncompressible) {
			return nil, err
		}
	}

	out := append(dst[:0], hdr[:]...)
	return c.aead.Seal(out, nonce, inner, hdr[:]), nil
}

func (c *encLZ4Codec) decode(dst, src []byte) ([]byte, error) {
	if len(src) < c.headerSize() {
		return nil, ErrCorrupt
	}

	hdr := src[:encHeaderSize]
	nonce := hdr[:chacha20poly1305.NonceSizeX]
	srcLen := int(binary.LittleEndian.Uint32(hdr[chacha20poly1305.NonceSizeX:]))

	inner, err := c.aead.Open(nil, nonce, src[encHeaderSize:], hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	switch hdr[encHeaderSize-1] {
	case encInnerLZ4:
		return lz4Decode(dst, inner, srcLen)
	case encInnerRaw:
		if len(inner) != srcLen {
			return nil, ErrLengthMismatch
		}
		return append(dst[:0], inner...), nil
	}
	return nil, ErrCorrupt
}

func (c *encLZ4Codec) headerSize() int { return encHeaderSize + chacha20poly1305.Overhead }

// --------------------------------------------------------------------

// grow returns dst[:sz], reallocating if the capacity is insufficient.
func grow(dst []byte, sz int) []byte {
	if cap(dst) < sz {
		return make([]byte, sz)
	}
	return dst[:sz]
}
