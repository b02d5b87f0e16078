package kdb

import (
	"encoding/binary"
)

// Compress b (a complete framed message) using q IPC compression.
// Returns b unchanged when the input is too small or the compressed
// form would not fit in half the original allocation; in that case the
// compression flag stays clear and the caller sends the original bytes.
// Length fields follow the write path's big-endian convention.
func Compress(b []byte) (dst []byte) {
	if len(b) <= 17 {
		return b
	}
	i := byte(0)
	f, h0, h := int32(0), int32(0), int32(0)
	g := false
	dst = make([]byte, len(b)/2)
	c := 12
	d := c
	e := len(dst)
	p := 0
	q, r, s0 := int32(0), int32(0), int32(0)
	s := int32(8)
	t := int32(len(b))
	a := make([]int32, 256)
	copy(dst[:4], b[:4])
	dst[2] = 1
	binary.BigEndian.PutUint32(dst[8:12], uint32(len(b)))
	for ; s < t; i *= 2 {
		if 0 == i {
			if d > e-17 {
				return b
			}
			i = 1
			dst[c] = byte(f)
			c = d
			d++
			f = 0
		}

		g = (s > t-3)
		if !g {
			h = int32(0xff & (b[s] ^ b[s+1]))
			p = int(a[h])
			g = (0 == p) || (0 != (b[s] ^ b[p]))
		}

		if 0 < s0 {
			a[h0] = s0
			s0 = 0
		}
		if g {
			h0 = h
			s0 = s
			dst[d] = b[s]
			d++
			s++
		} else {
			a[h] = s
			f |= int32(i)
			p += 2
			s += 2
			r = s
			q = min32(s+255, t)
			for ; b[p] == b[s] && s+1 < q; s++ {
				p++
			}
			dst[d] = byte(h)
			d++
			dst[d] = byte(s - r)
			d++
		}
	}
	dst[c] = byte(f)
	binary.BigEndian.PutUint32(dst[4:8], uint32(d))
	return dst[:d:d]
}

func min32(a, b int32) int32 {
	if a > b {
		return b
	}
	return a
}

// Uncompress a message body compressed with q IPC compression. The input
// starts at the 4-byte decompressed-size field that follows the 8-byte
// header; the returned buffer is the full decompressed message with the
// first 8 bytes unset.
func Uncompress(b []byte) (dst []byte) {
	return uncompress(b, false)
}

// uncompress honors the endianness the containing message declared.
// Back-references copy from the output buffer being built; the source
// and destination ranges may legitimately overlap, which is why the
// inner copy walks byte by byte.
func uncompress(b []byte, little bool) (dst []byte) {
	if len(b) < 4+1 {
		return nil
	}
	var usize uint32
	if little {
		usize = binary.LittleEndian.Uint32(b[0:4])
	} else {
		usize = binary.BigEndian.Uint32(b[0:4])
	}
	if usize < 8 {
		return nil
	}
	n, r, f, s := int32(0), int32(0), int32(0), int32(8)
	p := s
	i := int16(0)
	dst = make([]byte, usize)
	d := int32(4)
	aa := make([]int32, 256)
	for int(s) < len(dst) {
		if int(d) >= len(b) {
			return nil
		}
		if i == 0 {
			f = 0xff & int32(b[d])
			d++
			i = 1
		}
		if (f & int32(i)) != 0 {
			if int(d)+1 >= len(b) || int(s)+2 > len(dst) {
				return nil
			}
			r = aa[0xff&int32(b[d])]
			d++
			dst[s] = dst[r]
			s++
			r++
			dst[s] = dst[r]
			s++
			r++
			n = 0xff & int32(b[d])
			d++
			if int(s+n) > len(dst) {
				return nil
			}
			for m := int32(0); m < n; m++ {
				dst[s+m] = dst[r+m]
			}
		} else {
			if int(d) >= len(b) {
				return nil
			}
			dst[s] = b[d]
			s++
			d++
		}
		for p < s-1 {
			aa[(0xff&int32(dst[p]))^(0xff&int32(dst[p+1]))] = p
			p++
		}
		if (f & int32(i)) != 0 {
			s += n
			p = s
		}
		i *= 2
		if i == 256 {
			i = 0
		}
	}
	return dst
}
