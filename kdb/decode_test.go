package kdb

import (
	"bufio"
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nu7hatch/gouuid"
)

func roundtrip(t *testing.T, desc string, k *K) *K {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := Encode(buf, ASYNC, k); err != nil {
		t.Fatalf("roundtrip '%s': encode failed: %s", desc, err)
	}
	out, msgtype, err := Decode(bufio.NewReader(buf))
	if err != nil {
		t.Fatalf("roundtrip '%s': decode failed: %s", desc, err)
	}
	if msgtype != ASYNC {
		t.Errorf("roundtrip '%s': msgtype = %d, want %d", desc, msgtype, ASYNC)
	}
	return out
}

func TestRoundtrip(t *testing.T) {
	cases := []struct {
		desc  string
		input *K
	}{
		{"bool atom", Bool(true)},
		{"guid atom", Guid(testGuid)},
		{"byte atom", Byte(0xfe)},
		{"short atom", Short(-42)},
		{"int atom", Int(Ni)},
		{"long atom", Long(Wj)},
		{"real atom", Real(1.25)},
		{"float atom", Float(-3.5)},
		{"char atom", Char('q')},
		{"symbol atom", Symbol("hello")},
		{"timestamp atom", Timestamp(qEpoch.Add(123456789 * time.Nanosecond))},
		{"month atom", &K{-KM, NONE, Month(161)}},
		{"date atom", Date(qEpoch.AddDate(0, 0, 4909))},
		{"datetime atom", Datetime(4909.5)},
		{"timespan atom", Timespan(-5 * time.Minute)},
		{"minute atom", &K{-KU, NONE, Minute(1282)}},
		{"second atom", &K{-KV, NONE, Second(76921)}},
		{"time atom", &K{-KT, NONE, Time(78817963)}},
		{"bool vector", &K{KB, NONE, []bool{true, false, true}}},
		{"guid vector", &K{UU, NONE, []uuid.UUID{testGuid, testGuid2}}},
		{"byte vector", &K{KG, NONE, []byte{0, 1, 2, 255}}},
		{"short vector", &K{KH, NONE, []int16{1, Nh, Wh}}},
		{"int vector", &K{KI, NONE, []int32{1, Ni, Wi}}},
		{"long vector", &K{KJ, NONE, []int64{1, Nj, Wj}}},
		{"real vector", &K{KE, NONE, []float32{1.5, -0.25}}},
		{"float vector", &K{KF, NONE, []float64{1.5, -0.25}}},
		{"char vector", CharVector("GOOG")},
		{"symbol vector", SymbolV([]string{"abc", "", "c"})},
		{"timestamp vector", &K{KP, NONE, []time.Time{qEpoch.Add(time.Second), qEpoch.Add(2 * time.Second)}}},
		{"month vector", &K{KM, NONE, []Month{161, 162}}},
		{"date vector", &K{KD, NONE, []time.Time{qEpoch.AddDate(0, 0, 4909), NullDate}}},
		{"datetime vector", &K{KZ, NONE, []float64{4909.9193253819449}}},
		{"timespan vector", &K{KN, NONE, []time.Duration{time.Second, -time.Hour}}},
		{"minute vector", &K{KU, NONE, []Minute{0, 1282}}},
		{"second vector", &K{KV, NONE, []Second{76921, 76922}}},
		{"time vector", &K{KT, NONE, []Time{78817963}}},
		{"sorted attribute", &K{KI, SORTED, []int32{1, 2, 3}}},
		{"generic list", NewList(CharVector("ac"), Symbol("b"), Int(3))},
		{"nested list", NewList(NewList(Int(1)), NewList(Symbol("x"), Bool(false)))},
		{"dict", NewDict(SymbolV([]string{"a", "b"}), &K{KI, NONE, []int32{2, 3}})},
		{"dict of vectors", NewDict(SymbolV([]string{"a", "b"}),
			&K{K0, NONE, []*K{{KI, NONE, []int32{2}}, {KI, NONE, []int32{3}}}})},
		{"table", NewTable([]string{"a", "b"},
			[]*K{{KI, NONE, []int32{2}}, {KI, NONE, []int32{3}}})},
		{"keyed table", NewDict(NewTable([]string{"a"}, []*K{{KI, NONE, []int32{2}}}),
			NewTable([]string{"b"}, []*K{{KI, NONE, []int32{3}}}))},
	}
	for _, tt := range cases {
		out := roundtrip(t, tt.desc, tt.input)
		if !reflect.DeepEqual(tt.input, out) {
			t.Errorf("roundtrip '%s': expected %v, got %v", tt.desc, tt.input, out)
		}
	}
}

// both endiannesses of the same logical message must decode equally;
// only the read path is endian-flexible
func TestDecodeEndianness(t *testing.T) {
	le := []byte{0x01, 0x00, 0x00, 0x00, 0x16, 0x00, 0x00, 0x00,
		0x06, 0x00, 0x02, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	be := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x16,
		0x06, 0x00, 0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02}
	want := &K{KI, NONE, []int32{1, 2}}
	for _, msg := range [][]byte{le, be} {
		out, _, err := Decode(bufio.NewReader(bytes.NewReader(msg)))
		if err != nil {
			t.Fatalf("decode failed: %s", err)
		}
		if !reflect.DeepEqual(want, out) {
			t.Errorf("expected %v, got %v", want, out)
		}
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	// response frame with body 0x80 "type\x00"
	msg := []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0e,
		0x80, 0x74, 0x79, 0x70, 0x65, 0x00}
	data, msgtype, err := Decode(bufio.NewReader(bytes.NewReader(msg)))
	if data != nil {
		t.Errorf("expected nil data, got %v", data)
	}
	if msgtype != RESPONSE {
		t.Errorf("msgtype = %d, want %d", msgtype, RESPONSE)
	}
	var kerr *KError
	if !errors.As(err, &kerr) {
		t.Fatalf("expected *KError, got %T: %v", err, err)
	}
	if kerr.Message != "type" {
		t.Errorf("error text = %q, want %q", kerr.Message, "type")
	}
}

// function bodies are consumed structurally; anything after them in the
// stream must still decode correctly
func TestDecodeFunctionKeepsStreamInSync(t *testing.T) {
	body := []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x03, // list of 3
		0x64, 0x00, 0x0a, 0x00, 0x00, 0x00, 0x00, 0x05, 0x7b, 0x78, 0x2b, 0x79, 0x7d, // {x+y}
		0x65, 0x00, // unary primitive ::
		0xfa, 0x00, 0x00, 0x00, 0x07, // 7i
	}
	msg := make([]byte, 0, 8+len(body))
	msg = append(msg, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, byte(8+len(body)))
	msg = append(msg, body...)
	out, _, err := Decode(bufio.NewReader(bytes.NewReader(msg)))
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}
	items := out.Data.([]*K)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if f, ok := items[0].Data.(Function); !ok || f.Body != "{x+y}" {
		t.Errorf("lambda decoded incorrectly: %v", items[0])
	}
	if got := items[2].Data.(int32); got != 7 {
		t.Errorf("trailing atom = %d, want 7", got)
	}
}

func TestDecodeShortRead(t *testing.T) {
	// header promises 22 bytes, body delivers 4
	msg := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x16,
		0x06, 0x00, 0x00, 0x00}
	_, _, err := Decode(bufio.NewReader(bytes.NewReader(msg)))
	if err == nil {
		t.Error("expected error for short read")
	}
}
