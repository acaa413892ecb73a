package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

type deserializerError struct {
	err error
}

func (e deserializerError) Error() string {
	if e.err == nil {
		return "deserializer:"
	}

	return "deserializer:" + e.err.Error()
}

func makeDeserializerError(format string, args ...interface{}) deserializerError {
	return deserializerError{err: fmt.Errorf(format, args...)}
}

// Deserializer decodes values written by a Serializer. Malformed input
// panics with a deserializerError; callers on the dispatch boundary recover
// it via CatchPanics so a bad payload never crashes the reader.
type Deserializer struct {
	buf   []byte
	index int
}

func NewDeserializer(buf []byte) *Deserializer {
	return &Deserializer{buf: buf}
}

func (d *Deserializer) check(n int) {
	if len(d.buf[d.index:]) < n {
		panic(makeDeserializerError("not enough space to deserialize"))
	}
}

func (d *Deserializer) Uint64() (val uint64) {
	size := 8
	d.check(size)

	val = binary.LittleEndian.Uint64(d.buf[d.index : d.index+size])
	d.index += size

	return
}

func (d *Deserializer) Uint32() (val uint32) {
	size := 4
	d.check(size)

	val = binary.LittleEndian.Uint32(d.buf[d.index : d.index+size])
	d.index += size

	return
}

func (d *Deserializer) Uint16() (val uint16) {
	size := 2
	d.check(size)

	val = binary.LittleEndian.Uint16(d.buf[d.index : d.index+size])
	d.index += size

	return
}

func (d *Deserializer) Uint8() (val uint8) {
	size := 1
	d.check(size)

	val = d.buf[d.index]
	d.index += size

	return
}

func (d *Deserializer) Uint() (val uint) {
	return uint(d.Uint64())
}

func (d *Deserializer) Byte() (val byte) {
	return d.Uint8()
}

func (d *Deserializer) Int64() (val int64) {
	return int64(d.Uint64())
}

func (d *Deserializer) Int32() (val int32) {
	return int32(d.Uint32())
}

func (d *Deserializer) Int16() (val int16) {
	return int16(d.Uint16())
}

func (d *Deserializer) Int8() (val int8) {
	return int8(d.Uint8())
}

func (d *Deserializer) Int() (val int) {
	return int(d.Uint64())
}

func (d *Deserializer) Bool() (val bool) {
	return d.Uint8() == 1
}

func (d *Deserializer) Float32() (val float32) {
	return math.Float32frombits(d.Uint32())
}

func (d *Deserializer) Float64() (val float64) {
	return math.Float64frombits(d.Uint64())
}

func (d *Deserializer) String() (val string) {
	n := int(d.Uint32())
	if n == 0 {
		return ""
	}
	d.check(n)
	val = string(d.buf[d.index : d.index+n])
	d.index += n

	return
}

func (d *Deserializer) Bytes() (val []byte) {
	n := d.Int32()
	if n == -1 {
		return nil
	}
	if n < 0 {
		panic(makeDeserializerError("negative length %d", n))
	}
	if n == 0 {
		return []byte{}
	}
	d.check(int(n))
	val = make([]byte, n)
	copy(val, d.buf[d.index:d.index+int(n)])
	d.index += int(n)

	return
}

// Rest returns the undecoded remainder of the buffer.
func (d *Deserializer) Rest() []byte {
	return d.buf[d.index:]
}
