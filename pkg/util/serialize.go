// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type Serialize interface {
	WriteData(buffer []byte, len int) error
	Close() error
}

type Deserialize interface {
	ReadData(buffer []byte, len int) error
	Close() error
}

// Fixed is the set of values with a fixed big-endian width.
type Fixed interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64
}

func Write[T Fixed](value T, serial Serialize) error {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.BigEndian, value)
	if err != nil {
		return err
	}
	return serial.WriteData(buf.Bytes(), buf.Len())
}

func Read[T Fixed](value *T, deserial Deserialize) error {
	cnt := binary.Size(*value)
	buf := make([]byte, cnt)
	err := deserial.ReadData(buf, cnt)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.BigEndian, value)
}

// WriteBytes writes an int32 length followed by the bytes.
func WriteBytes(data []byte, serial Serialize) error {
	err := Write[int32](int32(len(data)), serial)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		return serial.WriteData(data, len(data))
	}
	return nil
}

func ReadBytes(deserial Deserialize) ([]byte, error) {
	var l int32
	err := Read[int32](&l, deserial)
	if err != nil {
		return nil, err
	}
	if l < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrInvalidArgument, l)
	}
	buf := make([]byte, l)
	err = deserial.ReadData(buf, int(l))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func WriteString(s string, serial Serialize) error {
	return WriteBytes([]byte(s), serial)
}

func ReadString(deserial Deserialize) (string, error) {
	buf, err := ReadBytes(deserial)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func WriteOptional(
	noNil func() bool,
	doSerial func(serial Serialize) error,
	serial Serialize) error {
	has := noNil()
	err := Write[bool](has, serial)
	if err != nil {
		return err
	}
	if has {
		return doSerial(serial)
	}
	return err
}

func ReadOptional(
	doDeserial func(deserial Deserialize) error,
	deserial Deserialize) error {
	opt := false
	err := Read[bool](&opt, deserial)
	if err != nil {
		return err
	}
	if opt {
		return doDeserial(deserial)
	}
	return err
}

var _ Serialize = new(BytesSerialize)

// BytesSerialize collects the encoded record in memory.
type BytesSerialize struct {
	buf bytes.Buffer
}

func NewBytesSerialize() *BytesSerialize {
	return &BytesSerialize{}
}

func (serial *BytesSerialize) WriteData(buffer []byte, len int) error {
	_, err := serial.buf.Write(buffer[:len])
	return err
}

func (serial *BytesSerialize) Bytes() []byte {
	return serial.buf.Bytes()
}

func (serial *BytesSerialize) Close() error {
	return nil
}

var _ Deserialize = new(BytesDeserialize)

type BytesDeserialize struct {
	data []byte
	pos  int
}

func NewBytesDeserialize(data []byte) *BytesDeserialize {
	return &BytesDeserialize{data: data}
}

func (deserial *BytesDeserialize) ReadData(buffer []byte, len int) error {
	if deserial.pos+len > deserial.Size() {
		return fmt.Errorf("read %d bytes at %d of %d: %w",
			len, deserial.pos, deserial.Size(), io.ErrUnexpectedEOF)
	}
	copy(buffer[:len], deserial.data[deserial.pos:deserial.pos+len])
	deserial.pos += len
	return nil
}

func (deserial *BytesDeserialize) Size() int {
	return len(deserial.data)
}

func (deserial *BytesDeserialize) Remaining() int {
	return deserial.Size() - deserial.pos
}

func (deserial *BytesDeserialize) Close() error {
	return nil
}
