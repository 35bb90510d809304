package cipher

// CiphertextLen returns the total byte length of an encoded blob for
// plaintext length L and chunk size C, per the length law in §4.2:
//
//	0                                  if L == 0
//	H + n*(T+C) + (T+r if r>0 else 0)  otherwise
//
// where H = header size + stream header size, T = TagSize, n = L/C, r = L%C.
func CiphertextLen(plaintextLen uint64, chunkSize uint64, version uint64) uint64 {
	if plaintextLen == 0 {
		return 0
	}
	h := uint64(HeaderSize(version)) + StreamHeaderSize
	n := plaintextLen / chunkSize
	r := plaintextLen % chunkSize
	total := h + n*(TagSize+chunkSize)
	if r > 0 {
		total += TagSize + r
	}
	return total
}

// PlaintextLen returns the plaintext length implied by an encrypted blob of
// length E, given the header size H' (known once the prober has classified
// the blob; it excludes the stream header) and chunk size C, per §4.2, with
// S = StreamHeaderSize:
//
//	k = (E - H' - S) / (T+C)
//	remainder_exists = (E - H' - S) mod (T+C) != 0
//	plaintext_len = (E - H' - S) - (k + (1 if remainder_exists else 0)) * T
func PlaintextLen(encryptedLen uint64, headerSize int, chunkSize uint64) uint64 {
	body := encryptedLen - uint64(headerSize) - StreamHeaderSize
	frameWidth := TagSize + chunkSize
	k := body / frameWidth
	remainderExists := body%frameWidth != 0
	tags := k
	if remainderExists {
		tags++
	}
	return body - tags*TagSize
}
