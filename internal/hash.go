package internal

const (
	fnvOffsetBasis uint32 = 0x811c9dc5
	fnvPrime       uint32 = 0x01000193
)

// HashFunction is a 32-bit FNV-1a hash starting from a configurable seed.
type HashFunction struct {
	seed uint32
}

var (
	// SeededHash starts from the standard FNV offset basis.
	SeededHash = NewHashFunction(fnvOffsetBasis)
	// ZeroSeededHash starts from zero. Ring lookups and the first replica
	// point of every node use it.
	ZeroSeededHash = NewHashFunction(0)
)

func NewHashFunction(seed uint32) HashFunction {
	return HashFunction{seed: seed}
}

func (f HashFunction) Sum(b []byte) uint32 {
	h := f.seed
	for _, c := range b {
		h ^= uint32(c)
		h *= fnvPrime
	}
	return h
}

func (f HashFunction) SumString(s string) uint32 {
	h := f.seed
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
