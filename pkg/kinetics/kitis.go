package kinetics

import "math"

const (
	eulerGamma = 0.5772156649

	// Samples with z above this use the asymptotic expansion.
	asymptoticLimit = 10

	convergentTerms = 50
)

// KitisApprox evaluates the Kitis 1998 first-order approximation. It is
// cheap but drifts away from the exact shape far from Tm, so it is only
// used to seed fits.
func KitisApprox(T []float64, Tm, Im, E float64) []float64 {
	out := make([]float64, len(T))
	for i, Ti := range T {
		arg := E * (Ti - Tm) / (Boltzmann * Ti * Tm)
		r := Ti / Tm
		out[i] = Im * math.Exp(1+arg-r*r*math.Exp(arg)*(1-2*Boltzmann*Ti/E)-2*Boltzmann*Tm/E)
	}
	return out
}

// KitisExact evaluates the Kitis 2006 first-order peak for an exponential
// heating profile with asymptotic temperature Tg.
//
// Each sample picks its expansion from z = |E(T-Tg)/(kT*Tg)|: the
// asymptotic series for z > 10, the 50-term convergent series otherwise.
// Values above Im and non-finite values are set to zero.
func KitisExact(T []float64, Tm, Im, E, Tg float64) []float64 {
	out := make([]float64, len(T))
	if len(T) == 0 {
		return out
	}

	zm := math.Abs(E * (Tm - Tg) / (Boltzmann * Tm * Tg))
	nm := int(zm)

	// Tm-only terms, computed on first use per branch.
	var (
		haveAsa, haveCsa bool
		zmAsa            float64
		z1m, z2m         float64
	)

	for i, Ti := range T {
		z := math.Abs(E * (Ti - Tg) / (Boltzmann * Ti * Tg))
		n := int(z)
		decay := math.Exp(-E * (Tm - Ti) / (Boltzmann * Ti * Tm))

		var v float64
		if z > asymptoticLimit {
			if !haveAsa {
				zmAsa = asymptoticSum(Tm, E, Tg, nm)
				haveAsa = true
			}
			zAsa := asymptoticSum(Ti, E, Tg, n)
			v = Im * math.Exp(-E*(Tm-Ti)/(Boltzmann*Ti*Tm)+(Tg-Tm)/Tm*(zmAsa-Ti/Tm*decay*zAsa))
		} else {
			if !haveCsa {
				z1m = exponentialIntegral(Tm, E, Tg)
				z2m = alternatingSum(Tm, E, nm)
				haveCsa = true
			}
			z1 := exponentialIntegral(Ti, E, Tg)
			z2 := alternatingSum(Ti, E, n)
			v = Im * math.Exp(
				-E*(Tm-Ti)/(Boltzmann*Ti*Tm)-
					E*(Tg-Tm)/(Boltzmann*Tm*Tm)*math.Exp(E*(Tg-Tm)/(Boltzmann*Tm*Tg))*(z1m-z1)-
					(Tg-Tm)/Tm*(z2m-z2*Ti/Tm*decay))
		}

		if math.IsNaN(v) || math.IsInf(v, 0) || v > Im {
			v = 0
		}
		out[i] = v
	}
	return out
}

// asymptoticSum is the truncated asymptotic series
// sum_{n=0}^{N} (-1)^n n! (kT/E)^n ((Tg/(Tg-T))^(n+1) - 1)
// plus half of the first omitted term.
func asymptoticSum(T, E, Tg float64, N int) float64 {
	d := Boltzmann * T / E
	r := Tg / (Tg - T)

	coeff := 1.0 // (-1)^n n! d^n
	rp := r      // r^(n+1)
	sum := 0.0
	for n := 0; n <= N; n++ {
		if n > 0 {
			coeff *= -float64(n) * d
			rp *= r
		}
		sum += coeff * (rp - 1)
	}
	coeff *= -float64(N+1) * d
	rp *= r
	return sum + 0.5*coeff*(rp-1)
}

// alternatingSum is sum_{n=0}^{N} (-1)^n n! (kT/E)^n plus half of the
// first omitted term.
func alternatingSum(T, E float64, N int) float64 {
	d := Boltzmann * T / E

	coeff := 1.0
	sum := 0.0
	for n := 0; n <= N; n++ {
		if n > 0 {
			coeff *= -float64(n) * d
		}
		sum += coeff
	}
	coeff *= -float64(N+1) * d
	return sum + 0.5*coeff
}

// exponentialIntegral is the convergent series of Ei(B) with
// B = E/(kT) * (T-Tg)/Tg.
func exponentialIntegral(T, E, Tg float64) float64 {
	B := E / (Boltzmann * T) * (T - Tg) / Tg

	sum := eulerGamma + math.Log(math.Abs(B))
	term := 1.0 // B^n / n!
	for n := 1; n <= convergentTerms; n++ {
		term *= B / float64(n)
		sum += term / float64(n)
	}
	return sum
}
