package geometry

import (
	"math"

	"github.com/moltools/dockscreen/pkg/types/mol"
)

// Dihedral returns the signed torsion angle, in radians in (-π, π], of the
// chain p0-p1-p2-p3 about the p1-p2 axis. It returns NaN when any three
// consecutive atoms are collinear, leaving the angle undefined.
func Dihedral(p0, p1, p2, p3 mol.Vec3) float64 {
	b0 := p1.Sub(p0)
	b1 := p2.Sub(p1)
	b2 := p3.Sub(p2)

	n1 := b0.Cross(b1)
	n2 := b1.Cross(b2)
	if n1.Norm() < 1e-12 || n2.Norm() < 1e-12 {
		return math.NaN()
	}
	m1 := n1.Cross(b1.Normalize())
	x := n1.Dot(n2)
	y := m1.Dot(n2)
	return math.Atan2(y, x)
}

// FitDihedralShift estimates how far the fragment on the b side of the a-b
// bond must rotate so the torsions measured on input best match those on
// target. For every reference pair (one neighbor of a excluding b, one
// neighbor of b excluding a) it takes the angular difference between the
// target and input torsion, then combines the differences by their circular
// mean so wrap-around at ±π cannot skew the estimate. The boolean reports
// whether at least one well-defined pair contributed; callers skip the bond
// otherwise.
func FitDihedralShift(input, target []mol.Vec3, a, b int, aNbrs, bNbrs []int) (float64, bool) {
	var sumSin, sumCos float64
	n := 0
	for _, p := range aNbrs {
		if p == b {
			continue
		}
		for _, q := range bNbrs {
			if q == a {
				continue
			}
			cur := Dihedral(input[p], input[a], input[b], input[q])
			want := Dihedral(target[p], target[a], target[b], target[q])
			if math.IsNaN(cur) || math.IsNaN(want) {
				continue
			}
			delta := want - cur
			sumSin += math.Sin(delta)
			sumCos += math.Cos(delta)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return math.Atan2(sumSin, sumCos), true
}

// RotateAboutBond rotates the atoms listed in moving about the a-b bond so
// that every torsion measured across the bond increases by angle radians.
// The slice is modified in place. Atoms a and b themselves lie on the axis,
// so including them in moving is harmless.
func RotateAboutBond(coords []mol.Vec3, a, b int, moving []int, angle float64) {
	axis := coords[a].Sub(coords[b])
	if axis.Norm() < 1e-12 {
		return
	}
	rot := mol.RotationAboutAxis(axis, angle)
	pivot := coords[b]
	for _, i := range moving {
		coords[i] = rot.MulVec(coords[i].Sub(pivot)).Add(pivot)
	}
}
