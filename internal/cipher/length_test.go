package cipher

import "testing"

func TestCiphertextLenEmpty(t *testing.T) {
	if got := CiphertextLen(0, 256, CurrentVersion); got != 0 {
		t.Fatalf("CiphertextLen(0, ...) = %d, want 0", got)
	}
}

func TestCiphertextLenExactMultipleOfChunkSize(t *testing.T) {
	const chunkSize = 64
	const plaintextLen = 3 * chunkSize
	got := CiphertextLen(plaintextLen, chunkSize, CurrentVersion)
	want := uint64(HeaderSizeV2) + StreamHeaderSize + 3*(TagSize+chunkSize)
	if got != want {
		t.Fatalf("CiphertextLen exact multiple = %d, want %d", got, want)
	}
}

func TestCiphertextLenSingleShortFrame(t *testing.T) {
	const chunkSize = 1024
	const plaintextLen = 117
	got := CiphertextLen(plaintextLen, chunkSize, CurrentVersion)
	want := uint64(HeaderSizeV2) + StreamHeaderSize + TagSize + plaintextLen
	if got != want {
		t.Fatalf("CiphertextLen single short frame = %d, want %d", got, want)
	}
}

func TestPlaintextLenRoundTripsCiphertextLen(t *testing.T) {
	cases := []struct {
		plaintextLen uint64
		chunkSize    uint64
		version      uint64
	}{
		{0, 256, CurrentVersion},
		{1, 256, CurrentVersion},
		{255, 256, CurrentVersion},
		{256, 256, CurrentVersion},
		{257, 256, CurrentVersion},
		{5882, 256, LegacyVersion},
		{117, 1024, CurrentVersion},
		{10 * 1024 * 1024, 65536, CurrentVersion},
	}
	for _, c := range cases {
		if c.plaintextLen == 0 {
			continue // the zero-length blob has no header at all; PlaintextLen is undefined for it.
		}
		encLen := CiphertextLen(c.plaintextLen, c.chunkSize, c.version)
		got := PlaintextLen(encLen, HeaderSize(c.version), c.chunkSize)
		if got != c.plaintextLen {
			t.Errorf("PlaintextLen(CiphertextLen(%d, %d, v%d)) = %d, want %d",
				c.plaintextLen, c.chunkSize, c.version, got, c.plaintextLen)
		}
	}
}

// scenario-1's resolved worked value: chunk_size=4 over 5 bytes of
// plaintext (one full 4-byte chunk plus a 1-byte remainder), v2 container:
// 32+8+8+8+24 + (16+4) + (16+1) = 117 bytes total.
func TestCiphertextLenScenarioOneResolvedValue(t *testing.T) {
	got := CiphertextLen(5, 4, CurrentVersion)
	want := uint64(117)
	if got != want {
		t.Fatalf("CiphertextLen(5, 4, v2) = %d, want %d", got, want)
	}
}
