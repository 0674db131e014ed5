package zernike

import "math"

// seidelTerms is the number of leading coefficients the conversion requires.
const seidelTerms = 12

// Seidel holds the classical aberrations in the units of the coefficients.
// Angles are in degrees.
type Seidel struct {
	TiltMag    float64 `yaml:"tiltMag"`
	TiltAngle  float64 `yaml:"tiltAngle"`
	DefocusMag float64 `yaml:"defocusMag"`
	AstigMag   float64 `yaml:"astigMag"`
	AstigAngle float64 `yaml:"astigAngle"`
	ComaMag    float64 `yaml:"comaMag"`
	ComaAngle  float64 `yaml:"comaAngle"`
	SphereMag  float64 `yaml:"sphereMag"`
}

// ToSeidel converts the cached coefficients. It reports false, with an empty
// result, unless coefficients 0 to 11 have all been computed.
func (d *Decomposer) ToSeidel() (Seidel, bool) {
	for i := 0; i < seidelTerms; i++ {
		if !d.Computed(i) {
			return Seidel{}, false
		}
	}
	return SeidelFromCoefficients(d.coeffs)
}

// SeidelFromCoefficients applies the closed-form fringe Zernike to Seidel
// transform:
//
//	tilt    = hypot(Z1-2Z6, Z2-2Z7)   at atan2(Z2-2Z7, Z1-2Z6)
//	focus   = 2Z3-6Z8 -+ hypot(Z4, Z5), sign minimizing |focus|
//	astig   = 2 hypot(Z4, Z5)         at atan2(Z5, Z4)/2
//	coma    = 3 hypot(Z6, Z7)         at atan2(Z7, Z6)
//	sphere  = 6 Z8
//
// It reports false when fewer than 12 coefficients are given or any of them is NaN.
func SeidelFromCoefficients(c []float64) (Seidel, bool) {
	if len(c) < seidelTerms {
		return Seidel{}, false
	}
	for _, v := range c[:seidelTerms] {
		if math.IsNaN(v) {
			return Seidel{}, false
		}
	}

	tx, ty := c[1]-2*c[6], c[2]-2*c[7]
	astig := math.Hypot(c[4], c[5])

	focus := 2*c[3] - 6*c[8]
	if focus >= 0 {
		focus -= astig
	} else {
		focus += astig
	}

	return Seidel{
		TiltMag:    math.Hypot(tx, ty),
		TiltAngle:  degrees(math.Atan2(ty, tx)),
		DefocusMag: focus,
		AstigMag:   2 * astig,
		AstigAngle: degrees(math.Atan2(c[5], c[4]) / 2),
		ComaMag:    3 * math.Hypot(c[6], c[7]),
		ComaAngle:  degrees(math.Atan2(c[7], c[6])),
		SphereMag:  6 * c[8],
	}, true
}

// Scaled returns s with every magnitude multiplied by factor; angles are kept.
func (s Seidel) Scaled(factor float64) Seidel {
	s.TiltMag *= factor
	s.DefocusMag *= factor
	s.AstigMag *= factor
	s.ComaMag *= factor
	s.SphereMag *= factor
	return s
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
