package kdb

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nu7hatch/gouuid"
)

// ReqType is the message kind carried in byte 1 of the IPC header.
type ReqType byte

const (
	ASYNC    ReqType = 0
	SYNC     ReqType = 1
	RESPONSE ReqType = 2
)

// Attr is the vector attribute byte (sorted/unique/parted/grouped).
// The codec preserves it; it does not interpret it.
type Attr int8

const (
	NONE Attr = iota
	SORTED
	UNIQUE
	PARTED
	GROUPED
)

const (
	K0 int8 = 0 // generic list
	//      type bytes qtype     ctype  accessor
	KB int8 = 1  // 1 boolean   char   kG
	UU int8 = 2  // 16 guid     U      kU
	KG int8 = 4  // 1 byte      char   kG
	KH int8 = 5  // 2 short     short  kH
	KI int8 = 6  // 4 int       int    kI
	KJ int8 = 7  // 8 long      long   kJ
	KE int8 = 8  // 4 real      float  kE
	KF int8 = 9  // 8 float     double kF
	KC int8 = 10 // 1 char      char   kC
	KS int8 = 11 // * symbol    char*  kS

	KP int8 = 12 // 8 timestamp long   kJ (nanoseconds from 2000.01.01)
	KM int8 = 13 // 4 month     int    kI (months from 2000.01.01)
	KD int8 = 14 // 4 date      int    kI (days from 2000.01.01)
	KZ int8 = 15 // 8 datetime  double kF (DO NOT USE)
	KN int8 = 16 // 8 timespan  long   kJ (nanoseconds)
	KU int8 = 17 // 4 minute    int    kI
	KV int8 = 18 // 4 second    int    kI
	KT int8 = 19 // 4 time      int    kI (millisecond)

	// table,dict
	XT int8 = 98  //   x->k is XD
	XD int8 = 99  //   kK(x)[0] is keys. kK(x)[1] is values.
	SD int8 = 127 //   sorted dict (keyed table with sorted attribute)

	// function types
	KFUNC      int8 = 100
	KFUNCUP    int8 = 101 // unary primitive
	KFUNCBP    int8 = 102 // binary primitive
	KFUNCTR    int8 = 103 // ternary (operator)
	KPROJ      int8 = 104 // projection
	KCOMP      int8 = 105 // composition
	KEACH      int8 = 106 // f'
	KOVER      int8 = 107 // f/
	KSCAN      int8 = 108 // f\
	KPRIOR     int8 = 109 // f':
	KEACHRIGHT int8 = 110 // f/:
	KEACHLEFT  int8 = 111 // f\:
	KDYNLOAD   int8 = 112 // dynamic load

	// error type
	KERR int8 = -128
)

// Null sentinels and infinities for the fixed-width types.
const (
	Nh int16 = math.MinInt16
	Wh int16 = math.MaxInt16
	Ni int32 = math.MinInt32
	Wi int32 = math.MaxInt32
	Nj int64 = math.MinInt64
	Wj int64 = math.MaxInt64
)

// element sizes per type code, 0 = variable length
var typeSize = [20]int{0, 1, 16, 0, 1, 2, 4, 8, 4, 8, 1, 0, 8, 4, 4, 8, 8, 4, 4, 4}

var qEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const qEpochUnix int64 = 946684800

// NullTimestamp is the timestamp null (wire value Nj nanoseconds).
var NullTimestamp = qEpoch.Add(time.Duration(Nj))

// NullDate is the date null. The wire value Ni days does not fit a
// time.Duration, so the zero time.Time stands in for it.
var NullDate = time.Time{}

// K is a single q value: a wire type code, a vector attribute and the data.
type K struct {
	Type int8
	Attr Attr
	Data interface{}
}

// message is malformated or invalid
var ErrBadMsg = errors.New("Bad Message")

// msg header is invalid
var ErrBadHeader = errors.New("Bad header")

// Response/Err called with no outstanding sync request
var ErrNoSyncRequest = errors.New("no pending sync request")

// KError is an error returned by the remote peer in an error frame.
// It is distinct from transport errors: the connection stays usable.
type KError struct {
	Message string
}

func (e *KError) Error() string {
	return e.Message
}

// kdb month: months from 2000.01.01
type Month int32

func (m Month) String() string {
	return fmt.Sprintf("%v.%02vm", 2000+int(m)/12, 1+int(m)%12)
}

// kdb minute: minutes from midnight
type Minute int32

func (m Minute) String() string {
	return fmt.Sprintf("%02v:%02v", int(m)/60, int(m)%60)
}

// kdb second: seconds from midnight
type Second int32

func (s Second) String() string {
	return fmt.Sprintf("%02v:%02v:%02v", int(s)/3600, (int(s)%3600)/60, int(s)%60)
}

// kdb time: milliseconds from midnight
type Time int32

func (t Time) String() string {
	ms := int(t)
	return fmt.Sprintf("%02v:%02v:%02v.%03v", ms/3600000, (ms%3600000)/60000, (ms%60000)/1000, ms%1000)
}

// Table: column names and column vectors of equal length
type Table struct {
	Columns []string
	Data    []*K
}

// Get returns the column data for name, nil if no such column.
func (tbl *Table) Get(name string) *K {
	for i, col := range tbl.Columns {
		if col == name {
			return tbl.Data[i]
		}
	}
	return nil
}

// Dict: ordered key->value mapping
type Dict struct {
	Key   *K
	Value *K
}

func (d Dict) String() string {
	return fmt.Sprintf("%v!%v", d.Key, d.Value)
}

// Struct that represents q function
type Function struct {
	Namespace string
	Body      string
}

// Atom constructors

func Bool(x bool) *K { return &K{-KB, NONE, x} }

func Guid(x uuid.UUID) *K { return &K{-UU, NONE, x} }

func Byte(x byte) *K { return &K{-KG, NONE, x} }

func Short(x int16) *K { return &K{-KH, NONE, x} }

func Int(x int32) *K { return &K{-KI, NONE, x} }

func Long(x int64) *K { return &K{-KJ, NONE, x} }

func Real(x float32) *K { return &K{-KE, NONE, x} }

func Float(x float64) *K { return &K{-KF, NONE, x} }

func Char(x byte) *K { return &K{-KC, NONE, x} }

func Symbol(x string) *K { return &K{-KS, NONE, x} }

func Timestamp(x time.Time) *K { return &K{-KP, NONE, x} }

func Date(x time.Time) *K { return &K{-KD, NONE, x} }

func Timespan(x time.Duration) *K { return &K{-KN, NONE, x} }

// Datetime builds a deprecated datetime atom from raw days since
// 2000.01.01.
func Datetime(days float64) *K { return &K{-KZ, NONE, days} }

// CharVector forces a string onto the wire as a char vector (type 10)
// instead of a symbol atom (type -11). Function names are invoked by
// sending them as char vectors; table and column names are symbols.
func CharVector(x string) *K { return &K{KC, NONE, x} }

func SymbolV(x []string) *K { return &K{KS, NONE, x} }

func NewList(x ...*K) *K { return &K{K0, NONE, x} }

func NewDict(k, v *K) *K { return &K{XD, NONE, Dict{k, v}} }

func NewTable(cols []string, data []*K) *K {
	return &K{XT, NONE, Table{cols, data}}
}

func NewFunc(ns, body string) *K { return &K{KFUNC, NONE, Function{ns, body}} }

// Error builds an error frame value for sending to a peer.
func Error(e error) *K { return &K{KERR, NONE, e.Error()} }

// Len returns the number of elements in a vector/list/dict/table value,
// -1 for atoms.
func (k *K) Len() int {
	switch k.Type {
	case XD:
		return k.Data.(Dict).Key.Len()
	case XT:
		t := k.Data.(Table)
		if len(t.Data) == 0 {
			return 0
		}
		return t.Data[0].Len()
	case KC:
		return len(k.Data.(string))
	}
	if k.Type < K0 || k.Type > XT {
		return -1
	}
	return reflectLen(k.Data)
}

func reflectLen(data interface{}) int {
	switch v := data.(type) {
	case []*K:
		return len(v)
	case []bool:
		return len(v)
	case []uuid.UUID:
		return len(v)
	case []byte:
		return len(v)
	case []int16:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	case []string:
		return len(v)
	case []time.Time:
		return len(v)
	case []time.Duration:
		return len(v)
	case []Month:
		return len(v)
	case []Minute:
		return len(v)
	case []Second:
		return len(v)
	case []Time:
		return len(v)
	case string:
		return len(v)
	}
	return -1
}

// TypeOf maps a plain Go value to its wire type code. The mapping is
// total: unrecognized types fall through to the generic list code 0.
func TypeOf(x interface{}) int8 {
	switch x.(type) {
	case bool:
		return -KB
	case uuid.UUID:
		return -UU
	case byte:
		return -KG
	case int16:
		return -KH
	case int32:
		return -KI
	case int64:
		return -KJ
	case float32:
		return -KE
	case float64:
		return -KF
	case string:
		return -KS
	case time.Time:
		return -KP
	case time.Duration:
		return -KN
	case Month:
		return -KM
	case Minute:
		return -KU
	case Second:
		return -KV
	case Time:
		return -KT
	case []bool:
		return KB
	case []uuid.UUID:
		return UU
	case []byte:
		return KG
	case []int16:
		return KH
	case []int32:
		return KI
	case []int64:
		return KJ
	case []float32:
		return KE
	case []float64:
		return KF
	case []string:
		return KS
	case []time.Time:
		return KP
	case []time.Duration:
		return KN
	case []Month:
		return KM
	case []Minute:
		return KU
	case []Second:
		return KV
	case []Time:
		return KT
	case Dict:
		return XD
	case Table:
		return XT
	case Function:
		return KFUNC
	}
	return K0
}

// Null returns the canonical null atom for a one-letter type char
// (the " bg xhijefcspmdznuvt" table).
func Null(c byte) (*K, error) {
	switch c {
	case 'b':
		return &K{-KB, NONE, false}, nil
	case 'g':
		return &K{-UU, NONE, uuid.UUID{}}, nil
	case 'x':
		return &K{-KG, NONE, byte(0)}, nil
	case 'h':
		return &K{-KH, NONE, Nh}, nil
	case 'i':
		return &K{-KI, NONE, Ni}, nil
	case 'j':
		return &K{-KJ, NONE, Nj}, nil
	case 'e':
		return &K{-KE, NONE, float32(math.NaN())}, nil
	case 'f':
		return &K{-KF, NONE, math.NaN()}, nil
	case 'c':
		return &K{-KC, NONE, byte(' ')}, nil
	case 's':
		return &K{-KS, NONE, ""}, nil
	case 'p':
		return &K{-KP, NONE, NullTimestamp}, nil
	case 'm':
		return &K{-KM, NONE, Month(Ni)}, nil
	case 'd':
		return &K{-KD, NONE, NullDate}, nil
	case 'z':
		return &K{-KZ, NONE, math.NaN()}, nil
	case 'n':
		return &K{-KN, NONE, time.Duration(Nj)}, nil
	case 'u':
		return &K{-KU, NONE, Minute(Ni)}, nil
	case 'v':
		return &K{-KV, NONE, Second(Ni)}, nil
	case 't':
		return &K{-KT, NONE, Time(Ni)}, nil
	}
	return nil, fmt.Errorf("invalid type char: %q", c)
}

// Unkey flattens a keyed table (a dict of two tables) into a single table,
// key columns first. Plain tables pass through unchanged.
func Unkey(x *K) (*K, error) {
	if x.Type == XT {
		return x, nil
	}
	if x.Type != XD && x.Type != SD {
		return nil, fmt.Errorf("cannot unkey type %d", x.Type)
	}
	d := x.Data.(Dict)
	if d.Key.Type != XT || d.Value.Type != XT {
		return nil, fmt.Errorf("cannot unkey dict of types %d!%d", d.Key.Type, d.Value.Type)
	}
	kt := d.Key.Data.(Table)
	vt := d.Value.Data.(Table)
	cols := append(append([]string{}, kt.Columns...), vt.Columns...)
	data := append(append([]*K{}, kt.Data...), vt.Data...)
	return NewTable(cols, data), nil
}
