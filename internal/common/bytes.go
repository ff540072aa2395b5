package common

// WipeBytes zeroes a sensitive byte slice in place. Callers use it to clear
// passwords once they are no longer needed.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
