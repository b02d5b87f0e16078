package kdb

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/nu7hatch/gouuid"
)

// writer is a cursor over a preallocated message buffer. sizeOf predicts
// the serialized length exactly, so the buffer never grows during a write.
//
// The write path always emits big-endian (header byte 0 = 0) while the
// read path honors whatever endianness each inbound message declares.
// The asymmetry matches the reference client; making it symmetric would
// break interoperability with existing kdb+ servers.
type writer struct {
	buf     []byte
	pos     int
	version int // negotiated IPC version, gates guid/timestamp/timespan
}

func newWriter(size, version int) *writer {
	return &writer{buf: make([]byte, size), version: version}
}

func (w *writer) wb(b byte) {
	w.buf[w.pos] = b
	w.pos++
}

func (w *writer) wbool(x bool) {
	if x {
		w.wb(1)
	} else {
		w.wb(0)
	}
}

// multi-byte primitives compose from narrower writes: 2 bytes -> short,
// 2 shorts -> int, 2 ints -> long
func (w *writer) wh(h int16) {
	u := uint16(h)
	w.wb(byte(u >> 8))
	w.wb(byte(u))
}

func (w *writer) wi(i int32) {
	u := uint32(i)
	w.wh(int16(u >> 16))
	w.wh(int16(u))
}

func (w *writer) wj(j int64) {
	u := uint64(j)
	w.wi(int32(u >> 32))
	w.wi(int32(u))
}

// floats travel as their IEEE-754 bit pattern, never through arithmetic
func (w *writer) we(e float32) {
	w.wi(int32(math.Float32bits(e)))
}

func (w *writer) wf(f float64) {
	w.wj(int64(math.Float64bits(f)))
}

func (w *writer) wg(g uuid.UUID) error {
	if w.version < 3 {
		return fmt.Errorf("guid not valid pre kdb+3.0 (negotiated version %d)", w.version)
	}
	copy(w.buf[w.pos:], g[:])
	w.pos += 16
	return nil
}

func (w *writer) ws(s string) error {
	b, err := latin1(s)
	if err != nil {
		return err
	}
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
	w.wb(0)
	return nil
}

func (w *writer) wp(t time.Time) error {
	if w.version < 1 {
		return fmt.Errorf("timestamp not valid pre kdb+2.6 (negotiated version %d)", w.version)
	}
	w.wj(t.Sub(qEpoch).Nanoseconds())
	return nil
}

func (w *writer) wn(n time.Duration) error {
	if w.version < 1 {
		return fmt.Errorf("timespan not valid pre kdb+2.6 (negotiated version %d)", w.version)
	}
	w.wj(int64(n))
	return nil
}

func (w *writer) wd(t time.Time) {
	if t.IsZero() {
		w.wi(Ni)
		return
	}
	w.wi(int32((t.Unix() - qEpochUnix) / 86400))
}

// latin1 converts a symbol to its ISO-8859-1 wire bytes. Symbols are
// null-terminated on the wire, so an embedded NUL cannot be represented.
func latin1(s string) ([]byte, error) {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r == 0 {
			return nil, fmt.Errorf("symbol %q contains embedded null", s)
		}
		if r > 0xff {
			return nil, fmt.Errorf("symbol %q is not ISO-8859-1", s)
		}
		b = append(b, byte(r))
	}
	return b, nil
}

// sizeOf returns the exact serialized byte count of data, including the
// leading type byte.
func sizeOf(data *K) (int, error) {
	t := data.Type
	switch t {
	case XD, SD:
		d := data.Data.(Dict)
		nk, err := sizeOf(d.Key)
		if err != nil {
			return 0, err
		}
		nv, err := sizeOf(d.Value)
		if err != nil {
			return 0, err
		}
		return 1 + nk + nv, nil
	case XT:
		tbl := data.Data.(Table)
		nk, err := sizeOf(SymbolV(tbl.Columns))
		if err != nil {
			return 0, err
		}
		nv, err := sizeOf(&K{K0, NONE, tbl.Data})
		if err != nil {
			return 0, err
		}
		return 3 + nk + nv, nil
	case KERR:
		b, err := latin1(data.Data.(string))
		if err != nil {
			return 0, err
		}
		return 2 + len(b), nil
	case KFUNC:
		f := data.Data.(Function)
		ns, err := latin1(f.Namespace)
		if err != nil {
			return 0, err
		}
		nb, err := sizeOf(CharVector(f.Body))
		if err != nil {
			return 0, err
		}
		return 1 + len(ns) + 1 + nb, nil
	}
	if t < 0 {
		if t == -KS {
			b, err := latin1(data.Data.(string))
			if err != nil {
				return 0, err
			}
			return 2 + len(b), nil
		}
		if t < -KT {
			return 0, fmt.Errorf("cannot size type %d", t)
		}
		return 1 + typeSize[-t], nil
	}
	if t > KT {
		return 0, fmt.Errorf("cannot size type %d", t)
	}
	// vector: type byte + attr byte + int32 count
	n := 6
	switch t {
	case K0:
		for _, v := range data.Data.([]*K) {
			m, err := sizeOf(v)
			if err != nil {
				return 0, err
			}
			n += m
		}
	case KC:
		b, err := latin1(data.Data.(string))
		if err != nil {
			return 0, err
		}
		n += len(b)
	case KS:
		for _, s := range data.Data.([]string) {
			b, err := latin1(s)
			if err != nil {
				return 0, err
			}
			n += 1 + len(b)
		}
	default:
		n += data.Len() * typeSize[t]
	}
	return n, nil
}

// write serializes one value at the cursor, leading type byte first.
func (w *writer) write(data *K) error {
	t := data.Type
	w.wb(byte(t))
	switch t {
	case XD, SD:
		d := data.Data.(Dict)
		if err := w.write(d.Key); err != nil {
			return err
		}
		return w.write(d.Value)
	case XT:
		tbl := data.Data.(Table)
		w.wb(byte(data.Attr))
		w.wb(byte(XD))
		if err := w.write(SymbolV(tbl.Columns)); err != nil {
			return err
		}
		return w.write(&K{K0, NONE, tbl.Data})
	case KERR:
		return w.ws(data.Data.(string))
	case KFUNC:
		f := data.Data.(Function)
		if err := w.ws(f.Namespace); err != nil {
			return err
		}
		return w.write(CharVector(f.Body))
	}
	if t < 0 {
		return w.writeAtom(data)
	}
	if t > KT {
		return fmt.Errorf("cannot encode type %d", t)
	}
	w.wb(byte(data.Attr))
	w.wi(int32(data.Len()))
	return w.writeVector(data)
}

func (w *writer) writeAtom(data *K) error {
	switch data.Type {
	case -KB:
		w.wbool(data.Data.(bool))
	case -UU:
		return w.wg(data.Data.(uuid.UUID))
	case -KG, -KC:
		w.wb(data.Data.(byte))
	case -KH:
		w.wh(data.Data.(int16))
	case -KI:
		w.wi(data.Data.(int32))
	case -KJ:
		w.wj(data.Data.(int64))
	case -KE:
		w.we(data.Data.(float32))
	case -KF, -KZ:
		w.wf(data.Data.(float64))
	case -KS:
		return w.ws(data.Data.(string))
	case -KP:
		return w.wp(data.Data.(time.Time))
	case -KM:
		w.wi(int32(data.Data.(Month)))
	case -KD:
		w.wd(data.Data.(time.Time))
	case -KN:
		return w.wn(data.Data.(time.Duration))
	case -KU:
		w.wi(int32(data.Data.(Minute)))
	case -KV:
		w.wi(int32(data.Data.(Second)))
	case -KT:
		w.wi(int32(data.Data.(Time)))
	default:
		return fmt.Errorf("cannot encode type %d", data.Type)
	}
	return nil
}

func (w *writer) writeVector(data *K) error {
	switch data.Type {
	case K0:
		for _, v := range data.Data.([]*K) {
			if err := w.write(v); err != nil {
				return err
			}
		}
	case KB:
		for _, v := range data.Data.([]bool) {
			w.wbool(v)
		}
	case UU:
		for _, v := range data.Data.([]uuid.UUID) {
			if err := w.wg(v); err != nil {
				return err
			}
		}
	case KG:
		copy(w.buf[w.pos:], data.Data.([]byte))
		w.pos += len(data.Data.([]byte))
	case KH:
		for _, v := range data.Data.([]int16) {
			w.wh(v)
		}
	case KI:
		for _, v := range data.Data.([]int32) {
			w.wi(v)
		}
	case KJ:
		for _, v := range data.Data.([]int64) {
			w.wj(v)
		}
	case KE:
		for _, v := range data.Data.([]float32) {
			w.we(v)
		}
	case KF, KZ:
		for _, v := range data.Data.([]float64) {
			w.wf(v)
		}
	case KC:
		b, err := latin1(data.Data.(string))
		if err != nil {
			return err
		}
		copy(w.buf[w.pos:], b)
		w.pos += len(b)
	case KS:
		for _, v := range data.Data.([]string) {
			if err := w.ws(v); err != nil {
				return err
			}
		}
	case KP:
		for _, v := range data.Data.([]time.Time) {
			if err := w.wp(v); err != nil {
				return err
			}
		}
	case KM:
		for _, v := range data.Data.([]Month) {
			w.wi(int32(v))
		}
	case KD:
		for _, v := range data.Data.([]time.Time) {
			w.wd(v)
		}
	case KN:
		for _, v := range data.Data.([]time.Duration) {
			if err := w.wn(v); err != nil {
				return err
			}
		}
	case KU:
		for _, v := range data.Data.([]Minute) {
			w.wi(int32(v))
		}
	case KV:
		for _, v := range data.Data.([]Second) {
			w.wi(int32(v))
		}
	case KT:
		for _, v := range data.Data.([]Time) {
			w.wi(int32(v))
		}
	default:
		return fmt.Errorf("cannot encode vector type %d", data.Type)
	}
	return nil
}

// serialize frames data as a complete message. Messages above 2000
// bytes are compressed when zip is set; compression falls back to the
// uncompressed bytes if it would not pay off.
func serialize(msgtype ReqType, data *K, version int, zip bool) ([]byte, error) {
	bodyLen, err := sizeOf(data)
	if err != nil {
		return nil, err
	}
	w := newWriter(8+bodyLen, version)
	w.wb(0) // big-endian, see writer doc
	w.wb(byte(msgtype))
	w.wb(0)
	w.wb(0)
	w.wi(int32(8 + bodyLen))
	if err := w.write(data); err != nil {
		return nil, err
	}
	buf := w.buf
	if zip && len(buf) > 2000 {
		buf = Compress(buf)
	}
	return buf, nil
}

// Encode sends data in q IPC format assuming the latest protocol version.
func Encode(w io.Writer, msgtype ReqType, data *K) error {
	buf, err := serialize(msgtype, data, maxIPCVersion, true)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
