package stress

// DefaultBurnLoops is the number of multiplications per unit of CPU work.
const DefaultBurnLoops = 1000000

// pattern is written at the start of every touched page.
var pattern = [...]byte{'A', 'B', 'C', 0}

// sink keeps the burn result observable.
var sink float32

// Burn multiplies a running value alternately by two factors close to 1.0
// loops times and returns it.
func Burn(loops int64) float32 {
	result := float32(1.0)
	for i := int64(1); i <= loops; i++ {
		if i%2 == 0 {
			result *= 1.00001
		} else {
			result *= 0.99999
		}
	}
	return result
}

func touch(page []byte) {
	copy(page, pattern[:])
}
