// Package seqs holds aligned chromosome sequences and the readers for the
// FASTA and sites alignment formats. Bases are one of A, C, G, T, N in
// either case; N marks an ambiguous observation.
package seqs

import "fmt"

// baseIndex maps a base character to its index in {A, C, G, T}, or -1.
var baseIndex [256]int

// indexBase is the inverse of baseIndex for the four unambiguous bases.
var indexBase = [4]byte{'A', 'C', 'G', 'T'}

func init() {
	for i := range baseIndex {
		baseIndex[i] = -1
	}
	baseIndex['A'], baseIndex['a'] = 0, 0
	baseIndex['C'], baseIndex['c'] = 1, 1
	baseIndex['G'], baseIndex['g'] = 2, 2
	baseIndex['T'], baseIndex['t'] = 3, 3
}

// BaseIndex returns the 0-3 index of an unambiguous base, or -1 for N or
// any other character.
func BaseIndex(c byte) int {
	return baseIndex[c]
}

// IndexBase returns the base character for an index in [0, 4).
func IndexBase(i int) byte {
	return indexBase[i]
}

// IsAmbiguous reports whether c is the ambiguity character N.
func IsAmbiguous(c byte) bool {
	return c == 'N' || c == 'n'
}

// ValidBase reports whether c is an acceptable alignment character.
func ValidBase(c byte) bool {
	return baseIndex[c] >= 0 || IsAmbiguous(c)
}

// Sequences is an alignment of equal-length chromosome sequences.
type Sequences struct {
	Names []string
	Seqs  [][]byte
}

// NewSequences returns an empty alignment.
func NewSequences() *Sequences {
	return &Sequences{}
}

// NSeqs returns the number of sequences in the alignment.
func (s *Sequences) NSeqs() int {
	return len(s.Seqs)
}

// Length returns the alignment length, 0 when empty.
func (s *Sequences) Length() int {
	if len(s.Seqs) == 0 {
		return 0
	}

	return len(s.Seqs[0])
}

// Append adds a named sequence. Every sequence must have the same length.
func (s *Sequences) Append(name string, seq []byte) error {
	if len(s.Seqs) > 0 && len(seq) != s.Length() {
		return fmt.Errorf("sequence %q has length %d, want %d", name, len(seq), s.Length())
	}

	s.Names = append(s.Names, name)
	s.Seqs = append(s.Seqs, seq)

	return nil
}

// IsInvariantSite reports whether every sequence carries the same character
// at position pos.
func IsInvariantSite(seqs [][]byte, pos int) bool {
	c := seqs[0][pos]
	for j := 1; j < len(seqs); j++ {
		if seqs[j][pos] != c {
			return false
		}
	}

	return true
}

// FindInvariantSites fills invariant[i] for each position of the alignment
// slice rows.
func FindInvariantSites(seqs [][]byte, seqlen int, invariant []bool) {
	for i := 0; i < seqlen; i++ {
		invariant[i] = IsInvariantSite(seqs, i)
	}
}

// Slice returns per-sequence subslices covering [start, end), sharing
// storage with the alignment.
func (s *Sequences) Slice(start, end int) [][]byte {
	out := make([][]byte, len(s.Seqs))
	for i, q := range s.Seqs {
		out[i] = q[start:end]
	}

	return out
}
