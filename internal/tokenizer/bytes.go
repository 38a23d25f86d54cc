package tokenizer

// byteTable is the bijective byte <-> printable glyph mapping used by
// byte-level BPE vocabularies (GPT-2, GPT-NeoX, RWKV "20B" tokenizer).
//
// Printable Latin-1 bytes map to themselves; the remaining 68 bytes are
// shifted into the 256+ code point range in ascending byte order.
type byteTable struct {
	encode [256]rune
	decode map[rune]byte
}

func newByteTable() *byteTable {
	t := &byteTable{decode: make(map[rune]byte, 256)}

	var printable [256]bool
	for b := '!'; b <= '~'; b++ {
		printable[b] = true
	}
	for b := '¡'; b <= '¬'; b++ {
		printable[b] = true
	}
	for b := '®'; b <= 'ÿ'; b++ {
		printable[b] = true
	}

	n := 0
	for b := 0; b < 256; b++ {
		r := rune(b)
		if !printable[b] {
			r = rune(256 + n)
			n++
		}
		t.encode[b] = r
		t.decode[r] = byte(b)
	}
	return t
}

// glyphs maps raw bytes to their glyph string.
func (t *byteTable) glyphs(raw string) string {
	out := make([]rune, len(raw))
	for i := 0; i < len(raw); i++ {
		out[i] = t.encode[raw[i]]
	}
	return string(out)
}

// bytes reverses glyphs. Runes outside the table keep their UTF-8 encoding.
func (t *byteTable) bytes(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if b, ok := t.decode[r]; ok {
			out = append(out, b)
			continue
		}
		out = append(out, string(r)...)
	}
	return out
}
