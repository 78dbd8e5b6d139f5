// Package uncertain carries measured and fitted quantities together with
// their standard deviation.
//
// Value arithmetic assumes the operands are independent. Quantities derived
// from one fit share a covariance matrix and go through Linear or Propagate
// instead.
package uncertain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type Value struct {
	V   float64
	Std float64
}

func New(v, std float64) Value {
	return Value{V: v, Std: math.Abs(std)}
}

// Poisson is a count with standard deviation sqrt(n).
func Poisson(n float64) Value {
	return Value{V: n, Std: math.Sqrt(math.Max(n, 0))}
}

func (a Value) Add(b Value) Value {
	return Value{V: a.V + b.V, Std: math.Hypot(a.Std, b.Std)}
}

func (a Value) Sub(b Value) Value {
	return Value{V: a.V - b.V, Std: math.Hypot(a.Std, b.Std)}
}

func (a Value) Mul(b Value) Value {
	return Value{V: a.V * b.V, Std: math.Hypot(a.Std*b.V, b.Std*a.V)}
}

func (a Value) Scale(k float64) Value {
	return Value{V: a.V * k, Std: math.Abs(k) * a.Std}
}

func (a Value) String() string {
	return fmt.Sprintf("%g+/-%g", a.V, a.Std)
}

// Linear returns sqrt(g^T C g), the standard deviation of a quantity with
// gradient g with respect to parameters of covariance C. Round-off that
// drives the variance below zero is clamped.
func Linear(grad []float64, cov mat.Symmetric) float64 {
	g := mat.NewVecDense(len(grad), grad)
	return math.Sqrt(math.Max(mat.Inner(g, cov, g), 0))
}

// Propagate evaluates f at p and linearly propagates cov through a central
// difference gradient of f.
func Propagate(f func(p []float64) float64, p []float64, cov mat.Symmetric) Value {
	return Value{V: f(p), Std: Linear(Gradient(f, p), cov)}
}

// Gradient is the central difference gradient of f at p.
func Gradient(f func(p []float64) float64, p []float64) []float64 {
	q := make([]float64, len(p))
	copy(q, p)
	grad := make([]float64, len(p))
	for i := range p {
		h := 1e-6 * math.Max(math.Abs(p[i]), 1)
		q[i] = p[i] + h
		up := f(q)
		q[i] = p[i] - h
		down := f(q)
		q[i] = p[i]
		grad[i] = (up - down) / (2 * h)
	}
	return grad
}

// Sum adds values assumed independent.
func Sum(vs ...Value) Value {
	var out Value
	for _, v := range vs {
		out = out.Add(v)
	}
	return out
}
