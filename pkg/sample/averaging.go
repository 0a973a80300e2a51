package sample

// NewAveragingConverter creates a converter that replaces every sample with the
// moving average over the last windowSize valid samples. Saturated samples are
// passed through unchanged and do not enter the average.
func NewAveragingConverter(windowSize int, bufSize int) func(in <-chan Sample) <-chan Sample {
	if windowSize <= 0 {
		windowSize = 1
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Sample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			buffer := make([]Sample, 0, windowSize)
			for sample := range in {
				if sample.Valid() {
					if len(buffer) == windowSize {
						copy(buffer, buffer[1:])
						buffer = buffer[:windowSize-1]
					}
					buffer = append(buffer, sample)
					sample = averageSamples(buffer)
				}

				out <- sample
			}
		}()

		return out
	}
}

// averageSamples averages the physical values of samples. The rest of the
// fields come from the most recent sample.
func averageSamples(samples []Sample) Sample {
	if len(samples) == 0 {
		return Sample{}
	}

	var sumHV, sumFB, sumZ, sumC float64
	for _, s := range samples {
		sumHV += s.HVVoltage
		sumFB += s.FBVoltage
		sumZ += s.Impedance
		sumC += s.Capacitance
	}

	n := float64(len(samples))
	avg := samples[len(samples)-1]
	avg.HVVoltage = sumHV / n
	avg.FBVoltage = sumFB / n
	avg.Impedance = sumZ / n
	avg.Capacitance = sumC / n
	return avg
}
