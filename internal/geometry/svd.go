package geometry

import (
	"math"

	"github.com/moltools/dockscreen/pkg/types/mol"
)

// jacobiSweeps bounds the cyclic Jacobi iteration. Symmetric 3x3 matrices
// converge in a handful of sweeps; hitting the bound means the input was
// pathological and the caller treats the decomposition as degenerate.
const jacobiSweeps = 50

// symEigen diagonalizes the symmetric matrix s by cyclic Jacobi rotations.
// It returns the eigenvalues in descending order and the matrix whose
// columns are the matching orthonormal eigenvectors. Only the upper
// triangle of s is read.
func symEigen(s mol.Mat3) (vals [3]float64, vecs mol.Mat3) {
	a := s
	vecs = mol.Identity()
	for sweep := 0; sweep < jacobiSweeps; sweep++ {
		off := math.Abs(a[0][1]) + math.Abs(a[0][2]) + math.Abs(a[1][2])
		if off == 0 {
			break
		}
		for p := 0; p < 2; p++ {
			for q := p + 1; q < 3; q++ {
				if a[p][q] == 0 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := 1 / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				if theta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(t*t+1)
				sn := t * c

				app, aqq, apq := a[p][p], a[q][q], a[p][q]
				a[p][p] = c*c*app - 2*sn*c*apq + sn*sn*aqq
				a[q][q] = sn*sn*app + 2*sn*c*apq + c*c*aqq
				a[p][q] = 0
				a[q][p] = 0
				for k := 0; k < 3; k++ {
					if k == p || k == q {
						continue
					}
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - sn*akq
					a[p][k] = a[k][p]
					a[k][q] = sn*akp + c*akq
					a[q][k] = a[k][q]
				}
				for k := 0; k < 3; k++ {
					vkp, vkq := vecs[k][p], vecs[k][q]
					vecs[k][p] = c*vkp - sn*vkq
					vecs[k][q] = sn*vkp + c*vkq
				}
			}
		}
	}
	for i := 0; i < 3; i++ {
		vals[i] = a[i][i]
	}
	// Sort descending, permuting eigenvector columns alongside.
	for i := 0; i < 2; i++ {
		max := i
		for j := i + 1; j < 3; j++ {
			if vals[j] > vals[max] {
				max = j
			}
		}
		if max != i {
			vals[i], vals[max] = vals[max], vals[i]
			for k := 0; k < 3; k++ {
				vecs[k][i], vecs[k][max] = vecs[k][max], vecs[k][i]
			}
		}
	}
	return vals, vecs
}

// svd3 computes the singular value decomposition h = u * diag(s) * vᵀ with
// singular values in descending order. It derives v and s from the
// eigendecomposition of hᵀh and recovers u column by column; when the third
// singular value is numerically zero the third column of u is completed by
// a cross product, keeping u orthonormal.
func svd3(h mol.Mat3) (u mol.Mat3, s [3]float64, v mol.Mat3) {
	hth := h.Transpose().Mul(h)
	eig, vv := symEigen(hth)
	v = vv
	for i := 0; i < 3; i++ {
		if eig[i] < 0 {
			eig[i] = 0 // round-off can push a zero eigenvalue slightly negative
		}
		s[i] = math.Sqrt(eig[i])
	}

	var cols [3]mol.Vec3
	for i := 0; i < 3; i++ {
		vi := mol.Vec3{v[0][i], v[1][i], v[2][i]}
		if s[i] > svdEpsilon {
			cols[i] = h.MulVec(vi).Scale(1 / s[i])
		}
	}
	if s[1] > svdEpsilon && s[2] <= svdEpsilon {
		cols[2] = cols[0].Cross(cols[1]).Normalize()
	}
	for i := 0; i < 3; i++ {
		u[0][i] = cols[i][0]
		u[1][i] = cols[i][1]
		u[2][i] = cols[i][2]
	}
	return u, s, v
}
