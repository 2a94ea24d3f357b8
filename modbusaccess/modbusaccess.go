package modbusaccess

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type represents the different types of data that can be exchanged over modbus.
type Type struct {
	name          string                   // the name of the data type
	dataLength    uint16                   // the number of underlying bytes to represent the data type
	fromBytesFunc func([]byte) interface{} // function to convert the bytes to the concrete data type (used to read from modbus)
	toBytesFunc   func(interface{}) []byte // function to convert the concrete data type into bytes (used to write to modbus)
}

// FloatType represents the 32 bit float data type. Values are decoded as float64.
var FloatType = Type{
	name:       "float",
	dataLength: 4,
	fromBytesFunc: func(bytes []byte) interface{} {
		valUint32 := binary.BigEndian.Uint32(bytes)
		valFloat32 := math.Float32frombits(valUint32)
		return float64(valFloat32)
	},
	toBytesFunc: func(val interface{}) []byte {
		bytes := make([]byte, 4)
		binary.BigEndian.PutUint32(bytes, math.Float32bits(float32(val.(float64))))
		return bytes
	},
}

// Uint16Type represents the 16 bit unsigned integer data type on Modbus.
var Uint16Type = Type{
	name:       "uint16",
	dataLength: 2,
	fromBytesFunc: func(bytes []byte) interface{} {
		valUint16 := binary.BigEndian.Uint16(bytes)
		return valUint16
	},
	toBytesFunc: func(val interface{}) []byte {
		bytes := make([]byte, 2)
		binary.BigEndian.PutUint16(bytes, val.(uint16))
		return bytes
	},
}

func (t Type) String() string {
	return t.name
}

// NumRegisters returns how many 16 bit registers a value of this type occupies.
func (t Type) NumRegisters() uint16 {
	return t.dataLength / 2
}

// Decode converts big-endian bytes into a value of this type.
func (t Type) Decode(bytes []byte) (interface{}, error) {
	if len(bytes) != int(t.dataLength) {
		return nil, fmt.Errorf("%s needs %d bytes, got %d", t.name, t.dataLength, len(bytes))
	}
	return t.fromBytesFunc(bytes), nil
}

// Encode converts a value of this type into register values, most significant word first.
func (t Type) Encode(val interface{}) []uint16 {
	bytes := t.toBytesFunc(val)
	registers := make([]uint16, 0, len(bytes)/2)
	for i := 0; i < len(bytes); i = i + 2 {
		registers = append(registers, binary.BigEndian.Uint16(bytes[i:i+2]))
	}
	return registers
}

// Register holds a value on the modbus slave at the given address
type Register struct {
	StartAddr uint16
	DataType  Type
}

// RegisterBlock represents a contigous block of modbus registers that are read in one chunk.
type RegisterBlock struct {
	Name         string              // name of the block used for context/logging
	StartAddr    uint16              // the first register address of the block
	NumRegisters uint16              // the number of registers in this block (each register is two bytes)
	Registers    map[string]Register // details of all the registers of interest in this block, keyed by unique name
}
