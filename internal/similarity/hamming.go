package similarity

// nibbleBits[x] is the number of set bits in the 4-bit value x.
var nibbleBits = [16]int{0, 1, 1, 2, 1, 2, 2, 3, 1, 2, 2, 3, 2, 3, 3, 4}

func hexNibble(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// Hamming returns the bit distance between two hex-encoded hashes, compared
// nibble by nibble. Nibbles past the end of the shorter string and
// non-hex characters count as fully different.
func Hamming(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	dist := 4 * (len(a) - len(b))
	for i := 0; i < len(b); i++ {
		x, okX := hexNibble(a[i])
		y, okY := hexNibble(b[i])
		if !okX || !okY {
			if a[i] != b[i] {
				dist += 4
			}
			continue
		}
		dist += nibbleBits[x^y]
	}
	return dist
}

// BestWindow slides the shorter sequence across every same-length contiguous
// window of the longer one and returns the lowest average per-frame distance.
// ok is false when either sequence is empty.
func BestWindow(a, b []string) (score float64, ok bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}

	best := -1.0
	for off := 0; off+len(short) <= len(long); off++ {
		total := 0
		for i := range short {
			total += Hamming(short[i], long[off+i])
		}
		avg := float64(total) / float64(len(short))
		if best < 0 || avg < best {
			best = avg
			if best == 0 {
				break
			}
		}
	}
	return best, true
}
