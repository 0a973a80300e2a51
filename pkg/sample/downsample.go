package sample

// Downsample reduces samples to at most maxPoints by decimation.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// If len(samples) <= maxPoints, all samples are copied.
func Downsample[T any](dst []T, samples []T, maxPoints int) []T {
	if len(samples) <= maxPoints {
		if cap(dst) >= len(samples) {
			dst = dst[:len(samples)]
		} else {
			dst = make([]T, len(samples))
		}
		copy(dst, samples)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(samples)) / float64(maxPoints)
	for i := range maxPoints {
		dst = append(dst, samples[int(float64(i)*step)])
	}

	return dst
}

// Capacitances extracts the device capacitance of each sample in pF.
// Samples without a valid impedance yield zero.
func Capacitances(dst []float64, samples []Sample) []float64 {
	dst = dst[:0]
	for _, s := range samples {
		if s.Valid() {
			dst = append(dst, s.Capacitance*1e12)
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}
