package softfp

import "math"

// roundToInt rounds x to an integral float64 under the environment's
// rounding mode.
func (e *Env) roundToInt(x float64) float64 {
	switch e.RM {
	case RTZ:
		return math.Trunc(x)
	case RDN:
		return math.Floor(x)
	case RUP:
		return math.Ceil(x)
	case RMM:
		return math.Round(x)
	default:
		return math.RoundToEven(x)
	}
}

const (
	two31 = 1 << 31
	two32 = 1 << 32
	two63 = 1 << 63
	two64 = 1 << 64
)

func (e *Env) cvtToI64(f float64) int64 {
	if math.IsNaN(f) {
		e.raise(FlagNV)
		return math.MaxInt64
	}
	r := e.roundToInt(f)
	if r < -two63 {
		e.raise(FlagNV)
		return math.MinInt64
	}
	if r >= two63 {
		e.raise(FlagNV)
		return math.MaxInt64
	}
	if r != f {
		e.raise(FlagNX)
	}
	return int64(r)
}

func (e *Env) cvtToU64(f float64) uint64 {
	if math.IsNaN(f) {
		e.raise(FlagNV)
		return math.MaxUint64
	}
	r := e.roundToInt(f)
	if r < 0 {
		e.raise(FlagNV)
		return 0
	}
	if r >= two64 {
		e.raise(FlagNV)
		return math.MaxUint64
	}
	if r != f {
		e.raise(FlagNX)
	}
	return uint64(r)
}

func (e *Env) cvtToI32(f float64) int32 {
	if math.IsNaN(f) {
		e.raise(FlagNV)
		return math.MaxInt32
	}
	r := e.roundToInt(f)
	if r < -two31 {
		e.raise(FlagNV)
		return math.MinInt32
	}
	if r >= two31 {
		e.raise(FlagNV)
		return math.MaxInt32
	}
	if r != f {
		e.raise(FlagNX)
	}
	return int32(r)
}

func (e *Env) cvtToU32(f float64) uint32 {
	if math.IsNaN(f) {
		e.raise(FlagNV)
		return math.MaxUint32
	}
	r := e.roundToInt(f)
	if r < 0 {
		e.raise(FlagNV)
		return 0
	}
	if r >= two32 {
		e.raise(FlagNV)
		return math.MaxUint32
	}
	if r != f {
		e.raise(FlagNX)
	}
	return uint32(r)
}

// F64-to-integer conversions (fcvt.w.d, fcvt.wu.d, fcvt.l.d, fcvt.lu.d).

func (e *Env) CvtF64ToI32(a uint64) int32  { return e.cvtToI32(math.Float64frombits(a)) }
func (e *Env) CvtF64ToU32(a uint64) uint32 { return e.cvtToU32(math.Float64frombits(a)) }
func (e *Env) CvtF64ToI64(a uint64) int64  { return e.cvtToI64(math.Float64frombits(a)) }
func (e *Env) CvtF64ToU64(a uint64) uint64 { return e.cvtToU64(math.Float64frombits(a)) }

// F32-to-integer conversions. Widening to float64 is exact, so the float64
// paths apply unchanged.

func (e *Env) CvtF32ToI32(a uint32) int32  { return e.cvtToI32(f32val(a)) }
func (e *Env) CvtF32ToU32(a uint32) uint32 { return e.cvtToU32(f32val(a)) }
func (e *Env) CvtF32ToI64(a uint32) int64  { return e.cvtToI64(f32val(a)) }
func (e *Env) CvtF32ToU64(a uint32) uint64 { return e.cvtToU64(f32val(a)) }

// i64Resid returns the host float64 of v and the sign of the conversion
// residual (exact - float).
func i64Resid(v int64) (float64, int) {
	r := float64(v)
	if r >= two63 {
		return r, -1
	}
	d := v - int64(r)
	switch {
	case d > 0:
		return r, 1
	case d < 0:
		return r, -1
	}
	return r, 0
}

func u64Resid(v uint64) (float64, int) {
	r := float64(v)
	if r >= two64 {
		return r, -1
	}
	back := uint64(r)
	switch {
	case v > back:
		return r, 1
	case v < back:
		return r, -1
	}
	return r, 0
}

// Integer-to-F64 conversions.

func (e *Env) CvtI32ToF64(v int32) uint64 {
	return math.Float64bits(float64(v))
}

func (e *Env) CvtU32ToF64(v uint32) uint64 {
	return math.Float64bits(float64(v))
}

func (e *Env) CvtI64ToF64(v int64) uint64 {
	r, resid := i64Resid(v)
	return math.Float64bits(e.roundF64(r, resid))
}

func (e *Env) CvtU64ToF64(v uint64) uint64 {
	r, resid := u64Resid(v)
	return math.Float64bits(e.roundF64(r, resid))
}

// Integer-to-F32 conversions.

func (e *Env) CvtI32ToF32(v int32) uint32 {
	return e.roundF32From64(float64(v), 0)
}

func (e *Env) CvtU32ToF32(v uint32) uint32 {
	return e.roundF32From64(float64(v), 0)
}

func (e *Env) CvtI64ToF32(v int64) uint32 {
	r, resid := i64Resid(v)
	return e.roundF32From64(r, resid)
}

func (e *Env) CvtU64ToF32(v uint64) uint32 {
	r, resid := u64Resid(v)
	return e.roundF32From64(r, resid)
}

// CvtF64ToF32 narrows a double to single precision (fcvt.s.d).
func (e *Env) CvtF64ToF32(a uint64) uint32 {
	if isNaN64(a) {
		if isSNaN64(a) {
			e.raise(FlagNV)
		}
		return QNaN32
	}
	return e.roundF32From64(math.Float64frombits(a), 0)
}

// CvtF32ToF64 widens a single to double precision (fcvt.d.s). The widening
// is exact.
func (e *Env) CvtF32ToF64(a uint32) uint64 {
	if isNaN32(a) {
		if isSNaN32(a) {
			e.raise(FlagNV)
		}
		return QNaN64
	}
	return math.Float64bits(f32val(a))
}
