package zernike

import "fmt"

// DefaultMaxOrder is the highest index of the standard 37-term set.
const DefaultMaxOrder = 36

// Term describes one basis polynomial R_n^|m|(rho) * cos(m*theta) (m > 0)
// or * sin(|m|*theta) (m < 0).
type Term struct {
	N int
	M int

	// Name is the aberration group the term belongs to, e.g. "coma5"
	Name string
}

// radial holds R_n^|m|(rho) / rho^|m| as a polynomial in rho^2, coefficients
// ordered from the highest power down to the constant term.
type radial struct {
	coeffs []float64
}

// terms is the fringe-ordered table: groups of constant (n+|m|)/2, |m|
// descending inside a group, cosine before sine, then the 12th-order spherical
// term closing the 37-term set.
var terms, radials = buildTable()

func buildTable() ([]Term, []radial) {
	var table []Term
	for d := 0; d <= 5; d++ {
		for m := d; m >= 0; m-- {
			n := 2*d - m
			if m == 0 {
				table = append(table, Term{N: n, M: 0})
				continue
			}
			table = append(table, Term{N: n, M: m}, Term{N: n, M: -m})
		}
	}
	table = append(table, Term{N: 12, M: 0})

	rads := make([]radial, len(table))
	for i := range table {
		table[i].Name = groupName(table[i].N, table[i].M)
		rads[i] = radialCoefficients(table[i].N, abs(table[i].M))
	}
	return table, rads
}

// radialCoefficients expands R_n^m(rho) = sum_k (-1)^k (n-k)! /
// (k! ((n+m)/2-k)! ((n-m)/2-k)!) rho^(n-2k), divided by rho^m.
func radialCoefficients(n, m int) radial {
	var r radial
	for k := 0; k <= (n-m)/2; k++ {
		c := factorial(n-k) / (factorial(k) * factorial((n+m)/2-k) * factorial((n-m)/2-k))
		if k%2 == 1 {
			c = -c
		}
		r.coeffs = append(r.coeffs, c)
	}
	return r
}

func (r radial) eval(rho2 float64) float64 {
	v := 0.0
	for _, c := range r.coeffs {
		v = v*rho2 + c
	}
	return v
}

// groupName derives the aberration name from the wavefront order n+|m|-1.
func groupName(n, m int) string {
	am := abs(m)
	order := n + am - 1
	switch {
	case n == 0:
		return "piston"
	case n == 1:
		return "tilt"
	case n == 2 && am == 0:
		return "defocus"
	}
	var base string
	switch am {
	case 0:
		base = "sphere"
	case 1:
		base = "coma"
	case 2:
		base = "astig"
	case 3:
		base = "trefoil"
	case 4:
		base = "quadrafoil"
	case 5:
		base = "pentafoil"
	default:
		base = fmt.Sprintf("m%d_", am)
	}
	return fmt.Sprintf("%s%d", base, order)
}

// Terms returns a copy of the basis table up to maxOrder inclusive.
func Terms(maxOrder int) []Term {
	if maxOrder >= len(terms) {
		maxOrder = len(terms) - 1
	}
	if maxOrder < 0 {
		return nil
	}
	out := make([]Term, maxOrder+1)
	copy(out, terms[:maxOrder+1])
	return out
}

// Evaluate returns basis polynomial index at normalized cartesian (x, y).
//
// The polynomial is evaluated in closed cartesian form: the radial part as a
// polynomial in x^2+y^2 and the angular part rho^|m| cos(m theta) or
// rho^|m| sin(|m| theta) as the real or imaginary part of (x+iy)^|m|.
func Evaluate(index int, x, y float64) float64 {
	t := terms[index]
	v := radials[index].eval(x*x + y*y)

	re, im := 1.0, 0.0
	for k := 0; k < abs(t.M); k++ {
		re, im = re*x-im*y, re*y+im*x
	}
	switch {
	case t.M > 0:
		v *= re
	case t.M < 0:
		v *= im
	}
	return v
}

// aliases resolve the short names to their lowest-order group.
var aliases = map[string]string{
	"astig":       "astig3",
	"astigmatism": "astig3",
	"coma":        "coma3",
	"sphere":      "sphere3",
	"spherical":   "sphere3",
	"focus":       "defocus",
	"trefoil":     "trefoil5",
	"quadrafoil":  "quadrafoil7",
	"pentafoil":   "pentafoil9",
}

// GroupIndices returns the basis indices making up a named aberration group.
func GroupIndices(name string) ([]int, bool) {
	if a, ok := aliases[name]; ok {
		name = a
	}
	var idx []int
	for i, t := range terms {
		if t.Name == name {
			idx = append(idx, i)
		}
	}
	return idx, len(idx) > 0
}

// GroupNames lists every group in basis order.
func GroupNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, t := range terms {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	return names
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
