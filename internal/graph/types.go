package graph

// MemoryLevel names a level of the NEM memory hierarchy.
type MemoryLevel string

const (
	LevelDDR MemoryLevel = "DDR"
	LevelL2  MemoryLevel = "L2"
	LevelL1  MemoryLevel = "L1"
)

// Levels lists the memory levels in placement order.
var Levels = []MemoryLevel{LevelL1, LevelL2, LevelDDR}

// Valid reports whether l is a known memory level.
func (l MemoryLevel) Valid() bool {
	switch l {
	case LevelDDR, LevelL2, LevelL1:
		return true
	}

	return false
}

// UnitType names an execution unit type of the device.
type UnitType string

const (
	UnitNMU  UnitType = "NMU"
	UnitCSTL UnitType = "CSTL"
	UnitDMA  UnitType = "DMA"
	UnitVPU  UnitType = "VPU"
	UnitSEQ  UnitType = "SEQ"
	UnitSDMA UnitType = "sDMA"
	UnitWDM  UnitType = "WDM"
)

// Control reports whether u is a control unit (sequencer, system DMA or
// weight decompression). Control units never take a resource binding.
func (u UnitType) Control() bool {
	return u == UnitSEQ || u == UnitSDMA || u == UnitWDM
}

// unitCodes are the 8-bit unit identifiers carried in TCB task ids.
var unitCodes = map[UnitType]uint8{
	UnitNMU:  0x01,
	UnitCSTL: 0x02,
	UnitDMA:  0x03,
	UnitVPU:  0x04,
	UnitSEQ:  0x05,
	UnitSDMA: 0x06,
	UnitWDM:  0x07,
}

// Code returns the unit's wire identifier.
func (u UnitType) Code() (uint8, bool) {
	c, ok := unitCodes[u]
	return c, ok
}

// UnitFromCode is the inverse of Code.
func UnitFromCode(code uint8) (UnitType, bool) {
	for u, c := range unitCodes {
		if c == code {
			return u, true
		}
	}

	return "", false
}

// Valid reports whether u is a known unit type.
func (u UnitType) Valid() bool {
	_, ok := unitCodes[u]
	return ok
}

// ElementType is a NEM tensor element type.
type ElementType string

const (
	I4   ElementType = "i4"
	I8   ElementType = "i8"
	I16  ElementType = "i16"
	I32  ElementType = "i32"
	U8   ElementType = "u8"
	U16  ElementType = "u16"
	U32  ElementType = "u32"
	F16  ElementType = "f16"
	BF16 ElementType = "bf16"
	TF32 ElementType = "tf32"
	F32  ElementType = "f32"
	F64  ElementType = "f64"
	Bool ElementType = "bool"
)

var elementBits = map[ElementType]int{
	I4: 4, I8: 8, I16: 16, I32: 32,
	U8: 8, U16: 16, U32: 32,
	F16: 16, BF16: 16, TF32: 32, F32: 32, F64: 64,
	Bool: 8,
}

// elementCodes are the 4-bit store-format codes used in register fields.
var elementCodes = map[ElementType]uint32{
	I4: 0x1, I8: 0x2, I16: 0x3, I32: 0x4,
	U8: 0x5, U16: 0x6, U32: 0x7,
	F16: 0x8, BF16: 0x9, TF32: 0xA, F32: 0xB, F64: 0xC,
	Bool: 0xD,
}

// Valid reports whether e is a known element type.
func (e ElementType) Valid() bool {
	_, ok := elementBits[e]
	return ok
}

// Bitwidth returns the element width in bits, 0 when unknown.
func (e ElementType) Bitwidth() int {
	return elementBits[e]
}

// Code returns the element's store-format code, 0 when unknown.
func (e ElementType) Code() uint32 {
	return elementCodes[e]
}

// IsInteger reports whether e is a signed or unsigned integer type.
func (e ElementType) IsInteger() bool {
	switch e {
	case I4, I8, I16, I32, U8, U16, U32:
		return true
	}

	return false
}

// IsFloat reports whether e is a floating-point type.
func (e ElementType) IsFloat() bool {
	switch e {
	case F16, BF16, TF32, F32, F64:
		return true
	}

	return false
}
