// Package fasta contains a streaming parser for FASTA files. Briefly, FASTA
// files consist of a number of named sequences that may be interrupted by
// newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appearing after a space is kept as
// the record comment.  For example, '>chr1 A viral sequence' has name 'chr1'.
//
// Records are returned one at a time, so memory use is bounded by the
// longest record rather than by the file.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// MaxLineLength is the longest FASTA line the scanner accepts.
const MaxLineLength = 64 << 20

var (
	// ErrInvalid is returned when sequence data appears before the first
	// header line, or when a header has an empty name.
	ErrInvalid = errors.New("invalid FASTA file")
)

// Record is one named FASTA sequence.
type Record struct {
	// Name is the header up to the first space, without the leading '>'.
	Name string
	// Comment is the remainder of the header line, if any.
	Comment string
	// Seq is the concatenation of the record's sequence lines.
	Seq string
}

// Scanner reads FASTA records from a stream. Its Scan/Err protocol matches
// fastq.Scanner. Scanners are not threadsafe.
type Scanner struct {
	b       *bufio.Scanner
	err     error
	n       int
	pending string // header line of the next record, if already read.
	seq     strings.Builder
	done    bool
}

// NewScanner creates a Scanner that reads FASTA data from r.
func NewScanner(r io.Reader) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 0, 64<<10), MaxLineLength)
	return &Scanner{b: b}
}

// Scan reads the next record into rec. It returns false at the end of input
// or on error; the caller should then check Err.
func (s *Scanner) Scan(rec *Record) bool {
	if s.err != nil || s.done {
		return false
	}
	header := s.pending
	s.pending = ""
	for header == "" {
		if !s.b.Scan() {
			s.finish()
			return false
		}
		line := s.b.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] != '>' {
			s.err = ErrInvalid
			return false
		}
		header = line
	}
	s.n++
	name, comment := splitHeader(header[1:])
	if name == "" {
		s.err = ErrInvalid
		return false
	}
	s.seq.Reset()
	for s.b.Scan() {
		line := s.b.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			s.pending = string(line)
			break
		}
		s.seq.Write(line)
	}
	if s.pending == "" {
		s.finish()
		if s.err != nil {
			return false
		}
	}
	rec.Name, rec.Comment, rec.Seq = name, comment, s.seq.String()
	return true
}

func (s *Scanner) finish() {
	s.done = true
	if err := s.b.Err(); err != nil {
		s.err = errors.Wrap(err, "couldn't read FASTA data")
	}
}

func splitHeader(h string) (name, comment string) {
	h = strings.TrimRight(h, "\r")
	if i := strings.IndexAny(h, " \t"); i >= 0 {
		return h[:i], strings.TrimSpace(h[i+1:])
	}
	return h, ""
}

// Record returns the 1-based index of the record most recently scanned.
func (s *Scanner) Record() int { return s.n }

// Err returns the first error encountered, if any.
func (s *Scanner) Err() error { return s.err }
