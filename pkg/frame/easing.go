package frame

// Easing maps linear progress in [0,1] onto an eased progress in [0,1].
// Every easing here satisfies f(0)=0, f(1)=1 and is monotonic.
type Easing func(p float64) float64

// Linear is the identity easing.
func Linear(p float64) float64 { return clamp01(p) }

// EaseInQuad accelerates from zero velocity.
func EaseInQuad(p float64) float64 {
	p = clamp01(p)
	return p * p
}

// EaseOutQuad decelerates to zero velocity.
func EaseOutQuad(p float64) float64 {
	p = clamp01(p)
	return 1 - (1-p)*(1-p)
}

// EaseInOutQuad accelerates through the first half and decelerates through the second.
func EaseInOutQuad(p float64) float64 {
	p = clamp01(p)
	if p < 0.5 {
		return 2 * p * p
	}
	return 1 - 2*(1-p)*(1-p)
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
