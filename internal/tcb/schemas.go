package tcb

import (
	"fmt"

	"github.com/nem-lang/nembind/internal/graph"
)

// DefaultISA is the ISA range of the built-in schemas.
const DefaultISA = ">= 1.0.0, < 2.0.0"

// Register offsets of the DMA engine.
const (
	RegDMASrc       uint32 = 0x100
	RegDMADst       uint32 = 0x104
	RegDMALen       uint32 = 0x108
	RegDMASrcStride uint32 = 0x10C
	RegDMADstStride uint32 = 0x110
	RegDMABurst     uint32 = 0x114
	RegDMACtrl      uint32 = 0x11C
)

// Register offsets of the matrix units (NMU, CSTL).
const (
	RegMatA    uint32 = 0x200
	RegMatB    uint32 = 0x204
	RegMatC    uint32 = 0x208
	RegMatM    uint32 = 0x20C
	RegMatN    uint32 = 0x210
	RegMatK    uint32 = 0x214
	RegMatBank uint32 = 0x218
	RegMatArb  uint32 = 0x21C
	RegMatFmt  uint32 = 0x220
	RegMatCtrl uint32 = 0x22C
	RegConvStr uint32 = 0x230
	RegConvPad uint32 = 0x234
	RegConvKH  uint32 = 0x238
	RegConvKW  uint32 = 0x23C
)

// Register offsets of the vector unit.
const (
	RegVecIn0   uint32 = 0x300
	RegVecIn1   uint32 = 0x304
	RegVecOut   uint32 = 0x308
	RegVecCount uint32 = 0x30C
	RegVecOp    uint32 = 0x310
	RegVecFmt   uint32 = 0x314
	RegVecCtrl  uint32 = 0x31C
)

// Control word layout shared by all units.
const (
	ctrlStart    uint32 = 1 << 0
	ctrlWrite    uint32 = 1 << 1
	ctrlModeBits        = 4
)

// DMA transfer modes carried in the control register.
const (
	dmaLoad uint32 = iota + 1
	dmaStore
	dmaCopy
)

// Vector op selectors.
var vectorOps = map[string]struct {
	code   uint32
	binary bool
}{
	"relu":      {0x1, false},
	"gelu":      {0x2, false},
	"add":       {0x3, true},
	"mul":       {0x4, true},
	"softmax":   {0x5, false},
	"layernorm": {0x6, false},
}

var defaultRegistry = buildDefault()

// Default returns the built-in schema table.
func Default() *Registry {
	return defaultRegistry
}

func buildDefault() *Registry {
	r, err := NewRegistry(DefaultISA)
	if err != nil {
		panic(err)
	}

	r.Register(graph.UnitDMA, "load", dmaSchema(dmaLoad))
	r.Register(graph.UnitDMA, "store", dmaSchema(dmaStore))
	r.Register(graph.UnitDMA, "copy", dmaSchema(dmaCopy))

	for _, u := range []graph.UnitType{graph.UnitNMU, graph.UnitCSTL} {
		r.Register(u, "gemm", gemmSchema)
		r.Register(u, "conv2d", conv2dSchema)
	}

	for op := range vectorOps {
		r.Register(graph.UnitVPU, op, vectorSchema(op))
	}

	return r
}

func operands(req *Request, in, out int) error {
	if len(req.Inputs) != in || len(req.Outputs) != out {
		return fmt.Errorf("%s/%s takes %d inputs and %d outputs, got %d and %d",
			req.Task.Unit, req.Task.Opcode, in, out, len(req.Inputs), len(req.Outputs))
	}

	return nil
}

// ctrl builds a control word: start bit, write-back bit, mode nibble.
func ctrl(mode uint32, out *graph.Region) uint32 {
	v := ctrlStart | (mode&0xF)<<ctrlModeBits
	if out != nil && out.WriteBack() {
		v |= ctrlWrite
	}

	return v
}

// storeFormat picks the output's element code, falling back to the device default.
func storeFormat(req *Request, out *graph.Region) uint32 {
	if out != nil && out.Elem != "" {
		return out.Elem.Code()
	}

	return req.Policy.StoreFormat.Code()
}

func u32(name string, v int64) (uint32, error) {
	if v < 0 || v > 0xFFFFFFFF {
		return 0, fmt.Errorf("%s %d does not fit a 32-bit register", name, v)
	}

	return uint32(v), nil
}

func dmaSchema(mode uint32) EncodeFunc {
	return func(req *Request) ([]Pair, error) {
		if err := operands(req, 1, 1); err != nil {
			return nil, err
		}

		src, dst := req.Inputs[0], req.Outputs[0]
		if src.Region.Extent != dst.Region.Extent {
			return nil, fmt.Errorf("transfer %s -> %s: extents %d and %d differ",
				src.Region.Name, dst.Region.Name, src.Region.Extent, dst.Region.Extent)
		}

		length, err := u32("length", dst.Region.Extent)
		if err != nil {
			return nil, err
		}

		ss, err := u32("src_stride", req.Attr("src_stride", 0))
		if err != nil {
			return nil, err
		}

		ds, err := u32("dst_stride", req.Attr("dst_stride", 0))
		if err != nil {
			return nil, err
		}

		return []Pair{
			{RegDMASrc, src.Addr},
			{RegDMADst, dst.Addr},
			{RegDMALen, length},
			{RegDMASrcStride, ss},
			{RegDMADstStride, ds},
			{RegDMABurst, req.Policy.BurstMode},
			{RegDMACtrl, ctrl(mode, dst.Region)},
		}, nil
	}
}

// matrixDims returns M, N, K from attributes, falling back to the 2-D shapes
// of A (M×K) and B (K×N).
func matrixDims(req *Request) (m, n, k int64, err error) {
	a, b := req.Inputs[0].Region, req.Inputs[1].Region

	if len(a.Shape) == 2 && len(b.Shape) == 2 {
		m, k, n = a.Shape[0], a.Shape[1], b.Shape[1]
		if b.Shape[0] != k {
			return 0, 0, 0, fmt.Errorf("inner dimensions %d and %d differ", k, b.Shape[0])
		}
	}

	m, n, k = req.Attr("m", m), req.Attr("n", n), req.Attr("k", k)
	if m <= 0 || n <= 0 || k <= 0 {
		return 0, 0, 0, fmt.Errorf("matrix dimensions unknown: give 2-D shapes or m/n/k attributes")
	}

	return m, n, k, nil
}

func matrixPairs(req *Request, mode uint32) ([]Pair, error) {
	m, n, k, err := matrixDims(req)
	if err != nil {
		return nil, err
	}

	dims := make([]uint32, 3)
	for i, v := range []int64{m, n, k} {
		if dims[i], err = u32("dimension", v); err != nil {
			return nil, err
		}
	}

	out := req.Outputs[0]

	return []Pair{
		{RegMatA, req.Inputs[0].Addr},
		{RegMatB, req.Inputs[1].Addr},
		{RegMatC, out.Addr},
		{RegMatM, dims[0]},
		{RegMatN, dims[1]},
		{RegMatK, dims[2]},
		{RegMatBank, req.Policy.BankSelect},
		{RegMatArb, req.Policy.Arbitration},
		{RegMatFmt, storeFormat(req, out.Region)},
		{RegMatCtrl, ctrl(mode, out.Region)},
	}, nil
}

func gemmSchema(req *Request) ([]Pair, error) {
	if err := operands(req, 2, 1); err != nil {
		return nil, err
	}

	return matrixPairs(req, 1)
}

func conv2dSchema(req *Request) ([]Pair, error) {
	if err := operands(req, 2, 1); err != nil {
		return nil, err
	}

	pairs, err := matrixPairs(req, 2)
	if err != nil {
		return nil, err
	}

	ctrlPair := pairs[len(pairs)-1]
	pairs = pairs[:len(pairs)-1]

	for _, f := range []struct {
		reg  uint32
		name string
		def  int64
	}{
		{RegConvStr, "stride", 1},
		{RegConvPad, "pad", 0},
		{RegConvKH, "kh", 1},
		{RegConvKW, "kw", 1},
	} {
		v, err := u32(f.name, req.Attr(f.name, f.def))
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, Pair{f.reg, v})
	}

	return append(pairs, ctrlPair), nil
}

func vectorSchema(op string) EncodeFunc {
	vop := vectorOps[op]

	return func(req *Request) ([]Pair, error) {
		in := 1
		if vop.binary {
			in = 2
		}

		if err := operands(req, in, 1); err != nil {
			return nil, err
		}

		out := req.Outputs[0]

		count, err := u32("element count", elementCount(out.Region))
		if err != nil {
			return nil, err
		}

		in1 := uint32(0)
		if vop.binary {
			in1 = req.Inputs[1].Addr
		}

		return []Pair{
			{RegVecIn0, req.Inputs[0].Addr},
			{RegVecIn1, in1},
			{RegVecOut, out.Addr},
			{RegVecCount, count},
			{RegVecOp, vop.code},
			{RegVecFmt, storeFormat(req, out.Region)},
			{RegVecCtrl, ctrl(0, out.Region)},
		}, nil
	}
}

// elementCount uses the shape when present, else the extent divided by the
// element width, else the extent in bytes.
func elementCount(r *graph.Region) int64 {
	if n := r.Elements(); n > 0 {
		return n
	}

	if bits := r.Elem.Bitwidth(); bits > 0 {
		return r.Extent * 8 / int64(bits)
	}

	return r.Extent
}
