package numdiff

import (
	"math"
	"reflect"
	"slices"
	"testing"
)

func objTrig(x []float64) float64 {
	return x[0]*math.Sin(x[1]) + x[1]*math.Cos(x[0])
}

func gradTrig(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]) - x[1]*math.Sin(x[0]),
		x[0]*math.Cos(x[1]) + math.Cos(x[0]),
	}
}

func objQuad(x []float64) float64 {
	f := 0.0
	for i, v := range x {
		f += float64(i+1) * v * v
	}
	return 0.5 * f
}

func gradQuad(x []float64) []float64 {
	g := make([]float64, len(x))
	for i, v := range x {
		g[i] = float64(i+1) * v
	}
	return g
}

func TestCheckParam(t *testing.T) {

	x0 := []float64{1, 2}
	g := make([]float64, 2)

	cases := []GradSpec{
		{N: 0, Object: objTrig},
		{N: 2, Object: nil},
		{N: 2, Object: objTrig, Method: Method(7)},
		{N: 3, Object: objTrig},
	}
	for i := range cases {
		if err := cases[i].Check(x0, g); err == nil {
			t.Fatal("expect check error at", i)
		}
	}

	gs := GradSpec{N: 2, Object: objTrig}
	switch {
	case gs.Check(x0, g) != nil:
		t.Fatal("unexpected check error")
	case gs.Check(x0, g[:1]) == nil:
		t.Fatal("expect grad dimension error")
	}
}

func TestAbsoluteStep(t *testing.T) {

	x0 := []float64{1, -1, 0, 1e8}

	// automatic selection scales with |x| and keeps the sign of x
	gs := GradSpec{N: 4, Object: objQuad, Method: Forward}
	_ = gs.Check(x0, make([]float64, 4))
	gs.absoluteStep(x0)
	for i, h := range gs.absStep {
		expect := math.Copysign(sqrtEps, x0[i]) * math.Max(1, math.Abs(x0[i]))
		if h != expect {
			t.Fatal("unexpected auto step at", i)
		}
	}

	// an explicit relative step that underflows at x = 0 falls back
	gs = GradSpec{N: 4, Object: objQuad, Method: Forward, RelStep: 1e-6}
	_ = gs.Check(x0, make([]float64, 4))
	gs.absoluteStep(x0)
	switch {
	case gs.absStep[0] != 1e-6:
		t.Fatal("unexpected relative step")
	case gs.absStep[2] != sqrtEps:
		t.Fatal("expect fallback step at zero")
	}

	// the central method drops the sign of the step
	gs = GradSpec{N: 4, Object: objQuad, Method: Central}
	_ = gs.Check(x0, make([]float64, 4))
	gs.absoluteStep(x0)
	for i, h := range gs.absStep {
		if h < 0 {
			t.Fatal("unexpected negative central step at", i)
		}
	}
}

func TestGradApprox(t *testing.T) {

	points := [][]float64{
		{1.0, 0.5},
		{-0.7, 2.3},
		{100.0, -0.1},
	}

	for _, x0 := range points {
		want := gradTrig(x0)
		saved := slices.Clone(x0)

		g := make([]float64, 2)
		gs := GradSpec{N: 2, Object: objTrig, Method: Forward}
		if err := gs.Grad(x0, g); err != nil {
			t.Fatal(err)
		}
		switch {
		case !relativeEqual(g, want, 1e-5):
			t.Fatal("forward gradient mismatch")
		case !relativeEqual(x0, saved, 0):
			t.Fatal("x0 not restored")
		}

		gs.Method = Central
		if err := gs.Grad(x0, g); err != nil {
			t.Fatal(err)
		}
		switch {
		case !relativeEqual(g, want, 1e-7):
			t.Fatal("central gradient mismatch")
		case !relativeEqual(x0, saved, 0):
			t.Fatal("x0 not restored")
		}
	}
}

func TestGradQuadExact(t *testing.T) {

	n := 10
	x0 := make([]float64, n)
	for i := range x0 {
		x0[i] = math.Sin(float64(i + 1))
	}

	g := make([]float64, n)
	gs := GradSpec{N: n, Object: objQuad, Method: Central}
	if err := gs.Grad(x0, g); err != nil {
		t.Fatal(err)
	}
	if !relativeEqual(g, gradQuad(x0), 1e-8) {
		t.Fatal("quadratic gradient mismatch")
	}
}

func relativeEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinRel := func(a, b float64) bool {
		if a == b {
			return true
		}
		delta := math.Abs(a - b)
		return delta/math.Max(math.Abs(a), math.Abs(b)) <= tol
	}
	switch reflect.TypeOf((*T)(nil)).Elem().Kind() {
	case reflect.Float64:
		return equalWithinRel(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinRel(a, b[i]) {
				return false
			}
		}
		return true
	}
	return false
}
