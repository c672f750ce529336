// Package geometry implements the small amount of 3-D numerics the pose
// corrector needs: rigid-body (Kabsch) alignment and torsion-angle fitting
// around rotatable bonds. Everything operates on raw coordinate slices so
// the package stays free of domain types above pkg/types/mol.
package geometry

import (
	"math"

	"github.com/moltools/dockscreen/pkg/errors"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

// svdEpsilon is the threshold below which a singular value counts as zero.
// A cross-covariance with fewer than two significant singular values has no
// well-defined rotation (all points coincident or collinear).
const svdEpsilon = 1e-8

// KabschTransform computes the rigid transform (r, t) that best maps mobile
// onto target in the least-squares sense: target ≈ r·mobile + t. The two
// slices must have equal, non-zero length. A degenerate point set — one
// whose cross-covariance has rank below two — yields CodeAlignmentDegenerate;
// callers are expected to fall back to the unaligned coordinates.
func KabschTransform(mobile, target []mol.Vec3) (mol.Mat3, mol.Vec3, error) {
	if len(mobile) == 0 || len(mobile) != len(target) {
		return mol.Mat3{}, mol.Vec3{}, errors.Newf(errors.CodeDimensionMismatch,
			"point sets of %d and %d atoms", len(mobile), len(target))
	}
	cm := mol.Centroid(mobile)
	ct := mol.Centroid(target)

	var h mol.Mat3
	for i := range mobile {
		p := mobile[i].Sub(cm)
		q := target[i].Sub(ct)
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h[r][c] += p[r] * q[c]
			}
		}
	}

	u, s, v := svd3(h)
	if s[1] <= svdEpsilon {
		return mol.Mat3{}, mol.Vec3{}, errors.Newf(errors.CodeAlignmentDegenerate,
			"cross-covariance rank below two (singular values %.3g, %.3g, %.3g)", s[0], s[1], s[2])
	}

	// H = U S Vᵀ maps mobile-frame onto target-frame, so the rotation is
	// V Uᵀ with a reflection fix on the last column.
	rot := v.Mul(u.Transpose())
	if rot.Det() < 0 {
		for k := 0; k < 3; k++ {
			v[k][2] = -v[k][2]
		}
		rot = v.Mul(u.Transpose())
	}
	t := ct.Sub(rot.MulVec(cm))
	return rot, t, nil
}

// ApplyTransform returns a new slice holding r·p + t for every p in coords.
func ApplyTransform(r mol.Mat3, t mol.Vec3, coords []mol.Vec3) []mol.Vec3 {
	out := make([]mol.Vec3, len(coords))
	for i, p := range coords {
		out[i] = r.MulVec(p).Add(t)
	}
	return out
}

// RMSD returns the root-mean-square deviation between two equal-length
// coordinate sets, without any superposition.
func RMSD(a, b []mol.Vec3) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, errors.Newf(errors.CodeDimensionMismatch,
			"point sets of %d and %d atoms", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i].Sub(b[i])
		sum += d.Dot(d)
	}
	return math.Sqrt(sum / float64(len(a))), nil
}
