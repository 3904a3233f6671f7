package sdruntime

// NextSeed returns the seed for the following image in a batch. It wraps
// at the top of the uint32 range.
func NextSeed(seed uint32) uint32 {
	return seed + 1
}
