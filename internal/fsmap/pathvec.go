package fsmap

import "strings"

// PathVec is an ordered sequence of Symbols giving a path relative to the
// export root; the empty sequence denotes the root.
type PathVec []Symbol

// Equal reports whether two PathVecs name the same path.
func (p PathVec) Equal(o PathVec) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading subsequence of p.
func (p PathVec) HasPrefix(prefix PathVec) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// WithPrefixReplaced returns a new PathVec with the leading `from` elements
// (which must satisfy p.HasPrefix(from)) replaced by `to`.
func (p PathVec) WithPrefixReplaced(from, to PathVec) PathVec {
	suffix := p[len(from):]
	out := make(PathVec, 0, len(to)+len(suffix))
	out = append(out, to...)
	out = append(out, suffix...)
	return out
}

// Append returns a new PathVec with sym appended, never mutating p.
func (p PathVec) Append(sym Symbol) PathVec {
	out := make(PathVec, len(p), len(p)+1)
	copy(out, p)
	return append(out, sym)
}

// Clone returns an independent copy of p.
func (p PathVec) Clone() PathVec {
	out := make(PathVec, len(p))
	copy(out, p)
	return out
}

// Less implements a lexicographic-on-symbols ordering, used for
// deterministic primary-alias tie-breaking: shorter is less when one is a
// prefix of the other, otherwise the first differing symbol decides.
func (p PathVec) Less(o PathVec) bool {
	n := len(p)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if p[i] != o[i] {
			return p[i] < o[i]
		}
	}
	return len(p) < len(o)
}

// Key returns a canonical string usable as a map key for p, since Go map
// keys can't be slices directly.
func (p PathVec) Key() string {
	var b strings.Builder
	for _, s := range p {
		// 4 bytes per symbol keeps the key unambiguous regardless of the
		// magnitude of any individual symbol value.
		b.WriteByte(byte(s >> 24))
		b.WriteByte(byte(s >> 16))
		b.WriteByte(byte(s >> 8))
		b.WriteByte(byte(s))
	}
	return b.String()
}
