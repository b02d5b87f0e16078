package kdb

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/golang/glog"
	"github.com/nu7hatch/gouuid"
)

// reader is a cursor over a fully-read message body. Unlike the write
// path it honors the endianness the message header declared.
type reader struct {
	buf    []byte
	pos    int
	little bool
}

func (r *reader) rb() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrBadMsg
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) rbool() (bool, error) {
	b, err := r.rb()
	return b == 1, err
}

func (r *reader) rh() (int16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, ErrBadMsg
	}
	x, y := r.buf[r.pos], r.buf[r.pos+1]
	r.pos += 2
	if r.little {
		return int16(uint16(x) | uint16(y)<<8), nil
	}
	return int16(uint16(x)<<8 | uint16(y)), nil
}

func (r *reader) ri() (int32, error) {
	x, err := r.rh()
	if err != nil {
		return 0, err
	}
	y, err := r.rh()
	if err != nil {
		return 0, err
	}
	if r.little {
		return int32(uint32(uint16(x)) | uint32(uint16(y))<<16), nil
	}
	return int32(uint32(uint16(x))<<16 | uint32(uint16(y))), nil
}

func (r *reader) rj() (int64, error) {
	x, err := r.ri()
	if err != nil {
		return 0, err
	}
	y, err := r.ri()
	if err != nil {
		return 0, err
	}
	if r.little {
		return int64(uint64(uint32(x)) | uint64(uint32(y))<<32), nil
	}
	return int64(uint64(uint32(x))<<32 | uint64(uint32(y))), nil
}

func (r *reader) re() (float32, error) {
	i, err := r.ri()
	return math.Float32frombits(uint32(i)), err
}

func (r *reader) rf() (float64, error) {
	j, err := r.rj()
	return math.Float64frombits(uint64(j)), err
}

// guids are byte-order independent on the wire
func (r *reader) rg() (uuid.UUID, error) {
	var u uuid.UUID
	if r.pos+16 > len(r.buf) {
		return u, ErrBadMsg
	}
	copy(u[:], r.buf[r.pos:r.pos+16])
	r.pos += 16
	return u, nil
}

func (r *reader) rs() (string, error) {
	start := r.pos
	for r.pos < len(r.buf) && r.buf[r.pos] != 0 {
		r.pos++
	}
	if r.pos >= len(r.buf) {
		return "", ErrBadMsg
	}
	b := r.buf[start:r.pos]
	r.pos++ // null terminator
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c) // ISO-8859-1
	}
	return string(runes), nil
}

func (r *reader) rp() (time.Time, error) {
	j, err := r.rj()
	return qEpoch.Add(time.Duration(j)), err
}

func (r *reader) rd() (time.Time, error) {
	d, err := r.ri()
	if err != nil || d == Ni {
		return NullDate, err
	}
	return qEpoch.AddDate(0, 0, int(d)), nil
}

// Decode reads one complete framed message from src: exactly 8 header
// bytes, then exactly length-8 body bytes. A short read is fatal to the
// connection. An error frame surfaces as *KError.
func Decode(src *bufio.Reader) (data *K, msgtype ReqType, e error) {
	var header [8]byte
	if _, err := io.ReadFull(src, header[:]); err != nil {
		glog.V(1).Infoln("Failed to read message header:", err)
		return nil, 0, err
	}
	little := header[0] == 1
	msgtype = ReqType(header[1])
	compressed := header[2] == 1
	hr := &reader{buf: header[4:], little: little}
	msgLen, err := hr.ri()
	if err != nil || msgLen < 8 {
		return nil, msgtype, ErrBadHeader
	}
	body := make([]byte, int(msgLen)-8)
	if _, err := io.ReadFull(src, body); err != nil {
		glog.Errorln("Failed to read message body:", err)
		return nil, msgtype, err
	}
	if compressed {
		full := uncompress(body, little)
		if full == nil {
			return nil, msgtype, ErrBadMsg
		}
		body = full[8:]
	}
	r := &reader{buf: body, little: little}
	data, e = r.read()
	return data, msgtype, e
}

// read deserializes one value at the cursor, dispatching on the leading
// type byte.
func (r *reader) read() (*K, error) {
	tb, err := r.rb()
	if err != nil {
		return nil, err
	}
	t := int8(tb)
	if t < 0 && t > -(KT+1) {
		return r.readAtom(t)
	}
	switch t {
	case KERR:
		msg, err := r.rs()
		if err != nil {
			return nil, err
		}
		return nil, &KError{msg}
	case XD, SD:
		dk, err := r.read()
		if err != nil {
			return nil, err
		}
		dv, err := r.read()
		if err != nil {
			return nil, err
		}
		return &K{t, NONE, Dict{dk, dv}}, nil
	case XT:
		attr, err := r.rb()
		if err != nil {
			return nil, err
		}
		d, err := r.read()
		if err != nil {
			return nil, err
		}
		dict, ok := d.Data.(Dict)
		if !ok {
			return nil, ErrBadMsg
		}
		cols, ok := dict.Key.Data.([]string)
		if !ok {
			return nil, ErrBadMsg
		}
		vals, ok := dict.Value.Data.([]*K)
		if !ok {
			return nil, ErrBadMsg
		}
		return &K{XT, Attr(attr), Table{cols, vals}}, nil
	}
	if t >= KFUNC {
		return r.readFunction(t)
	}
	if t > KT {
		return nil, ErrBadMsg
	}
	attr, err := r.rb()
	if err != nil {
		return nil, err
	}
	n, err := r.ri()
	if err != nil || n < 0 {
		return nil, ErrBadMsg
	}
	return r.readVector(t, Attr(attr), int(n))
}

func (r *reader) readAtom(t int8) (*K, error) {
	switch t {
	case -KB:
		v, err := r.rbool()
		return &K{t, NONE, v}, err
	case -UU:
		v, err := r.rg()
		return &K{t, NONE, v}, err
	case -KG, -KC:
		v, err := r.rb()
		return &K{t, NONE, v}, err
	case -KH:
		v, err := r.rh()
		return &K{t, NONE, v}, err
	case -KI:
		v, err := r.ri()
		return &K{t, NONE, v}, err
	case -KJ:
		v, err := r.rj()
		return &K{t, NONE, v}, err
	case -KE:
		v, err := r.re()
		return &K{t, NONE, v}, err
	case -KF, -KZ:
		v, err := r.rf()
		return &K{t, NONE, v}, err
	case -KS:
		v, err := r.rs()
		return &K{t, NONE, v}, err
	case -KP:
		v, err := r.rp()
		return &K{t, NONE, v}, err
	case -KM:
		v, err := r.ri()
		return &K{t, NONE, Month(v)}, err
	case -KD:
		v, err := r.rd()
		return &K{t, NONE, v}, err
	case -KN:
		v, err := r.rj()
		return &K{t, NONE, time.Duration(v)}, err
	case -KU:
		v, err := r.ri()
		return &K{t, NONE, Minute(v)}, err
	case -KV:
		v, err := r.ri()
		return &K{t, NONE, Second(v)}, err
	case -KT:
		v, err := r.ri()
		return &K{t, NONE, Time(v)}, err
	}
	return nil, ErrBadMsg
}

func (r *reader) readVector(t int8, attr Attr, n int) (*K, error) {
	switch t {
	case K0:
		arr := make([]*K, n)
		for i := 0; i < n; i++ {
			v, err := r.read()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KB:
		arr := make([]bool, n)
		for i := range arr {
			v, err := r.rbool()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case UU:
		arr := make([]uuid.UUID, n)
		for i := range arr {
			v, err := r.rg()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KG:
		if r.pos+n > len(r.buf) {
			return nil, ErrBadMsg
		}
		arr := make([]byte, n)
		copy(arr, r.buf[r.pos:r.pos+n])
		r.pos += n
		return &K{t, attr, arr}, nil
	case KH:
		arr := make([]int16, n)
		for i := range arr {
			v, err := r.rh()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KI:
		arr := make([]int32, n)
		for i := range arr {
			v, err := r.ri()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KJ:
		arr := make([]int64, n)
		for i := range arr {
			v, err := r.rj()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KE:
		arr := make([]float32, n)
		for i := range arr {
			v, err := r.re()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KF, KZ:
		arr := make([]float64, n)
		for i := range arr {
			v, err := r.rf()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KC:
		if r.pos+n > len(r.buf) {
			return nil, ErrBadMsg
		}
		runes := make([]rune, n)
		for i := 0; i < n; i++ {
			runes[i] = rune(r.buf[r.pos+i])
		}
		r.pos += n
		return &K{t, attr, string(runes)}, nil
	case KS:
		arr := make([]string, n)
		for i := range arr {
			v, err := r.rs()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KP:
		arr := make([]time.Time, n)
		for i := range arr {
			v, err := r.rp()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KM:
		arr := make([]Month, n)
		for i := range arr {
			v, err := r.ri()
			if err != nil {
				return nil, err
			}
			arr[i] = Month(v)
		}
		return &K{t, attr, arr}, nil
	case KD:
		arr := make([]time.Time, n)
		for i := range arr {
			v, err := r.rd()
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return &K{t, attr, arr}, nil
	case KN:
		arr := make([]time.Duration, n)
		for i := range arr {
			v, err := r.rj()
			if err != nil {
				return nil, err
			}
			arr[i] = time.Duration(v)
		}
		return &K{t, attr, arr}, nil
	case KU:
		arr := make([]Minute, n)
		for i := range arr {
			v, err := r.ri()
			if err != nil {
				return nil, err
			}
			arr[i] = Minute(v)
		}
		return &K{t, attr, arr}, nil
	case KV:
		arr := make([]Second, n)
		for i := range arr {
			v, err := r.ri()
			if err != nil {
				return nil, err
			}
			arr[i] = Second(v)
		}
		return &K{t, attr, arr}, nil
	case KT:
		arr := make([]Time, n)
		for i := range arr {
			v, err := r.ri()
			if err != nil {
				return nil, err
			}
			arr[i] = Time(v)
		}
		return &K{t, attr, arr}, nil
	}
	return nil, ErrBadMsg
}

// readFunction structurally consumes function types 100-112. The content
// is kept only opaquely, but every byte must be consumed or the stream
// desynchronizes for all subsequent reads.
func (r *reader) readFunction(t int8) (*K, error) {
	switch t {
	case KFUNC:
		ns, err := r.rs()
		if err != nil {
			return nil, err
		}
		body, err := r.read()
		if err != nil {
			return nil, err
		}
		s, ok := body.Data.(string)
		if !ok {
			return nil, ErrBadMsg
		}
		return &K{t, NONE, Function{ns, s}}, nil
	case KFUNCUP, KFUNCBP, KFUNCTR:
		b, err := r.rb()
		if err != nil {
			return nil, err
		}
		return &K{t, NONE, b}, nil
	case KPROJ, KCOMP:
		n, err := r.ri()
		if err != nil || n < 0 {
			return nil, ErrBadMsg
		}
		arr := make([]*K, n)
		for i := range arr {
			if arr[i], err = r.read(); err != nil {
				return nil, err
			}
		}
		return &K{t, NONE, arr}, nil
	case KEACH, KOVER, KSCAN, KPRIOR, KEACHRIGHT, KEACHLEFT:
		return r.read()
	case KDYNLOAD:
		return nil, fmt.Errorf("dynamic load (type %d) is unsupported", t)
	}
	return nil, ErrBadMsg
}
