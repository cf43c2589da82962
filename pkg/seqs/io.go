package seqs

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// OpenReader opens path for reading, transparently decompressing .gz and
// .lz4 inputs. The caller must close the returned closer.
func OpenReader(path string) (io.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()

			return nil, nil, fmt.Errorf("open gzip %s: %w", path, err)
		}

		return zr, f, nil
	case strings.HasSuffix(path, ".lz4"):
		return lz4.NewReader(f), f, nil
	default:
		return f, f, nil
	}
}

// ReadFasta parses a FASTA alignment.
func ReadFasta(r io.Reader) (*Sequences, error) {
	s := NewSequences()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)

	var name string
	var parts []string
	flush := func() error {
		if name == "" && len(parts) == 0 {
			return nil
		}

		return s.Append(name, []byte(strings.Join(parts, "")))
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}

			name = line[1:]
			parts = parts[:0]
		} else {
			parts = append(parts, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fasta: %w", err)
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return s, nil
}

// ReadFastaFile reads a FASTA alignment from path, decompressing as needed.
func ReadFastaFile(path string) (*Sequences, error) {
	r, c, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return ReadFasta(r)
}

// WriteFasta writes the alignment in FASTA format.
func WriteFasta(w io.Writer, s *Sequences) error {
	for i, name := range s.Names {
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", name, s.Seqs[i]); err != nil {
			return fmt.Errorf("write fasta: %w", err)
		}
	}

	return nil
}

// Sites is a sparse alignment holding only variant columns.
type Sites struct {
	Chrom      string
	StartCoord int
	EndCoord   int
	Names      []string
	Positions  []int
	Cols       [][]byte
}

// Length returns the genomic span covered by the sites region.
func (s *Sites) Length() int {
	return s.EndCoord - s.StartCoord
}

// ReadSites parses the sites alignment format: a NAMES line, a REGION line
// with 1-indexed coordinates, and one tab-separated line per variant column.
func ReadSites(r io.Reader) (*Sites, error) {
	sites := &Sites{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)

	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || line[0] == '#' {
			continue
		}

		switch {
		case strings.HasPrefix(line, "NAMES\t"):
			sites.Names = strings.Split(line[len("NAMES\t"):], "\t")

		case strings.HasPrefix(line, "REGION\t"):
			fields := strings.Split(line, "\t")
			if len(fields) != 4 {
				return nil, fmt.Errorf("bad REGION format (line %d)", lineno)
			}

			start, err1 := strconv.Atoi(fields[2])
			end, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("bad REGION coordinates (line %d)", lineno)
			}

			sites.Chrom = fields[1]
			sites.StartCoord = start - 1 // convert to 0-index
			sites.EndCoord = end

		case strings.HasPrefix(line, "RANGE\t"):
			return nil, fmt.Errorf("deprecated RANGE line (line %d): use REGION", lineno)

		default:
			tab := strings.IndexByte(line, '\t')
			if tab < 0 {
				return nil, fmt.Errorf("site line missing column (line %d)", lineno)
			}

			pos, err := strconv.Atoi(line[:tab])
			if err != nil {
				return nil, fmt.Errorf("first column is not an integer (line %d)", lineno)
			}
			pos-- // convert to 0-index

			col := []byte(strings.ToUpper(line[tab+1:]))
			if len(col) != len(sites.Names) {
				return nil, fmt.Errorf("expected %d bases, got %d (line %d)",
					len(sites.Names), len(col), lineno)
			}

			for _, c := range col {
				if !ValidBase(c) {
					return nil, fmt.Errorf("invalid sequence character %q (line %d)", c, lineno)
				}
			}

			if pos < sites.StartCoord || pos >= sites.EndCoord {
				continue
			}

			sites.Positions = append(sites.Positions, pos)
			sites.Cols = append(sites.Cols, col)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sites: %w", err)
	}

	return sites, nil
}

// ReadSitesFile reads a sites alignment from path, decompressing as needed.
func ReadSitesFile(path string) (*Sites, error) {
	r, c, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return ReadSites(r)
}

// MakeSequencesFromSites expands a sparse sites alignment into a dense one,
// filling invariant columns with defaultChar.
func MakeSequencesFromSites(sites *Sites, defaultChar byte) *Sequences {
	nseqs := len(sites.Names)
	seqlen := sites.Length()
	s := NewSequences()

	for i := 0; i < nseqs; i++ {
		seq := make([]byte, seqlen)
		col := 0
		for j := 0; j < seqlen; j++ {
			if col < len(sites.Positions) && sites.StartCoord+j == sites.Positions[col] {
				seq[j] = sites.Cols[col][i]
				col++
			} else {
				seq[j] = defaultChar
			}
		}

		// lengths are uniform by construction
		_ = s.Append(sites.Names[i], seq)
	}

	return s
}
