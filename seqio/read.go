// Package seqio streams sequencing reads from FASTQ and FASTA files.
//
// Input files may be plain or compressed (gzip, BGZF, bzip2, zstd) and are
// opened through grailbio/base/file, so any path scheme registered there
// (local, s3, ...) is accepted. The format is detected from the first byte of
// the decompressed data: '@' for FASTQ, '>' for FASTA.
//
// Malformed records stop the stream with an InputFormatError, and unreadable
// files with an IOError. Nothing is skipped: a corrupt run must never be
// summarized as if it were complete.
package seqio

import (
	"strings"
	"time"
)

// Read is one sequencing read. Reads are immutable once produced.
type Read struct {
	// ID is the header line without its leading '@' or '>'.
	ID string
	// Seq is the base sequence.
	Seq string
	// Qual is the phred+33 quality string. It is empty for FASTA input and
	// otherwise has the same length as Seq.
	Qual string
	// Source is the path of the file the read came from.
	Source string
}

// Name returns the read name, i.e. ID up to the first space or tab.
func (r Read) Name() string {
	if i := strings.IndexAny(r.ID, " \t"); i >= 0 {
		return r.ID[:i]
	}
	return r.ID
}

// Comment returns the part of ID after the name, or "".
func (r Read) Comment() string {
	if i := strings.IndexAny(r.ID, " \t"); i >= 0 {
		return strings.TrimSpace(r.ID[i+1:])
	}
	return ""
}

// Phred returns the quality score of base i. It must only be called when Qual
// is nonempty.
func (r Read) Phred(i int) int { return int(r.Qual[i]) - 33 }

// Opts controls how files are opened and buffered.
type Opts struct {
	// Timeout bounds each file open and each read from an open file. Zero
	// disables the timeout.
	Timeout time.Duration
	// Retries is the max number of times a transiently failing open is
	// retried before it becomes an IOError.
	Retries int
	// RetryBackoff is the delay before the first retry. It doubles on each
	// retry.
	RetryBackoff time.Duration
	// BatchSize is the number of reads handed from the reader goroutine to
	// the consumer at once.
	BatchSize int
	// BufferSize is the number of batches buffered between the reader
	// goroutine and the consumer. The reader blocks when the buffer is full.
	BufferSize int
}

// DefaultOpts are the default stream options.
var DefaultOpts = Opts{
	Timeout:      5 * time.Minute,
	Retries:      3,
	RetryBackoff: 100 * time.Millisecond,
	BatchSize:    256,
	BufferSize:   16,
}

func (o Opts) withDefaults() Opts {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultOpts.BatchSize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultOpts.BufferSize
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultOpts.RetryBackoff
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	return o
}
