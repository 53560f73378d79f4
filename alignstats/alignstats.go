// Package alignstats summarizes SAM and BAM files produced by an external
// aligner, in the manner of samtools flagstat, for use as QC metrics.
package alignstats

import (
	"bufio"
	"context"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/kdm9/seqchk/seqio"
	"v.io/x/lib/vlog"
)

// Opts control alignment summaries.
type Opts struct {
	// Timeout bounds the file open and each read of the underlying file. Zero
	// disables it.
	Timeout time.Duration
	// Parallelism is the number of BAM decompression goroutines.
	Parallelism int
}

// DefaultOpts are the default options.
var DefaultOpts = Opts{Timeout: 5 * time.Minute, Parallelism: 1}

// Stats counts alignment records. QC-failed records are counted only in
// QCFail and Total. Primary counts exclude secondary and supplementary
// records.
type Stats struct {
	Total          int64 `json:"total"`
	QCFail         int64 `json:"qc_fail"`
	Secondary      int64 `json:"secondary"`
	Supplementary  int64 `json:"supplementary"`
	Primary        int64 `json:"primary"`
	PrimaryMapped  int64 `json:"primary_mapped"`
	Duplicate      int64 `json:"duplicate"`
	Paired         int64 `json:"paired"`
	ProperlyPaired int64 `json:"properly_paired"`
	Singletons     int64 `json:"singletons"`
	// MapQSum and MapQCount cover primary mapped records with a known MAPQ.
	MapQSum   int64 `json:"mapq_sum"`
	MapQCount int64 `json:"mapq_count"`
}

func (s *Stats) record(r *sam.Record) {
	s.Total++
	f := r.Flags
	if f&sam.QCFail != 0 {
		s.QCFail++
		return
	}
	switch {
	case f&sam.Secondary != 0:
		s.Secondary++
		return
	case f&sam.Supplementary != 0:
		s.Supplementary++
		return
	}
	s.Primary++
	mapped := f&sam.Unmapped == 0
	if mapped {
		s.PrimaryMapped++
		if r.MapQ != 255 {
			s.MapQSum += int64(r.MapQ)
			s.MapQCount++
		}
	}
	if f&sam.Duplicate != 0 {
		s.Duplicate++
	}
	if f&sam.Paired != 0 {
		s.Paired++
		if f&sam.ProperPair != 0 && mapped {
			s.ProperlyPaired++
		}
		if f&sam.MateUnmapped != 0 && mapped {
			s.Singletons++
		}
	}
}

// Merge adds the counts of o to s.
func (s *Stats) Merge(o Stats) {
	s.Total += o.Total
	s.QCFail += o.QCFail
	s.Secondary += o.Secondary
	s.Supplementary += o.Supplementary
	s.Primary += o.Primary
	s.PrimaryMapped += o.PrimaryMapped
	s.Duplicate += o.Duplicate
	s.Paired += o.Paired
	s.ProperlyPaired += o.ProperlyPaired
	s.Singletons += o.Singletons
	s.MapQSum += o.MapQSum
	s.MapQCount += o.MapQCount
}

// MappedFraction is the fraction of primary records that are mapped.
func (s Stats) MappedFraction() float64 { return ratio(s.PrimaryMapped, s.Primary) }

// ProperlyPairedFraction is the fraction of paired primary records that are
// mapped in a proper pair.
func (s Stats) ProperlyPairedFraction() float64 { return ratio(s.ProperlyPaired, s.Paired) }

// DuplicateFraction is the fraction of primary records marked duplicate.
func (s Stats) DuplicateFraction() float64 { return ratio(s.Duplicate, s.Primary) }

// MeanMapQ is the mean MAPQ of primary mapped records.
func (s Stats) MeanMapQ() float64 { return ratio(s.MapQSum, s.MapQCount) }

func ratio(a, b int64) float64 {
	if b == 0 {
		return math.NaN()
	}
	return float64(a) / float64(b)
}

// recordReader is the subset of sam.Reader and bam.Reader used here.
type recordReader interface {
	Read() (*sam.Record, error)
}

// Collect summarizes the SAM or BAM file at path. BAM is recognized by its
// BGZF magic, anything else is parsed as SAM text.
func Collect(ctx context.Context, path string, opts Opts) (stats Stats, err error) {
	if ctx.Err() != nil {
		return stats, seqio.CtxErr(ctx, qcerr.Path(path))
	}
	f, err := seqio.OpenTimeout(ctx, path, opts.Timeout)
	if err != nil {
		if qcerr.KindOf(err) != qcerr.Other {
			return stats, err
		}
		return stats, qcerr.E(qcerr.IO, qcerr.Path(path), "open", err)
	}
	var closeBAM func() error
	defer func() {
		once := errors.Once{}
		once.Set(err)
		if closeBAM != nil {
			if cerr := closeBAM(); cerr != nil {
				once.Set(qcerr.E(qcerr.IO, qcerr.Path(path), "close", cerr))
			}
		}
		if cerr := f.Close(ctx); cerr != nil {
			once.Set(qcerr.E(qcerr.IO, qcerr.Path(path), "close", cerr))
		}
		err = once.Err()
	}()
	var raw io.Reader = f.Reader(ctx)
	if opts.Timeout > 0 {
		raw = seqio.NewTimeoutReader(ctx, raw, opts.Timeout, path)
	}
	br := bufio.NewReaderSize(raw, 1<<20)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return stats, qcerr.E(qcerr.IO, qcerr.Path(path), "read", err)
	}
	var rr recordReader
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		parallelism := opts.Parallelism
		if parallelism < 1 {
			parallelism = 1
		}
		bamr, err := bam.NewReader(br, parallelism)
		if err != nil {
			return stats, classify(path, 0, err)
		}
		closeBAM, rr = bamr.Close, bamr
	} else {
		sr, err := sam.NewReader(br)
		if err != nil {
			return stats, classify(path, 0, err)
		}
		rr = sr
	}
	for {
		if ctx.Err() != nil {
			return stats, seqio.CtxErr(ctx, qcerr.Path(path))
		}
		r, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, classify(path, stats.Total+1, err)
		}
		stats.record(r)
		sam.PutInFreePool(r)
		if stats.Total%1000000 == 0 {
			vlog.VI(1).Infof("%s: %d records", path, stats.Total)
		}
	}
	vlog.VI(1).Infof("%s: done, %d records, %d primary mapped", path, stats.Total, stats.PrimaryMapped)
	return stats, nil
}

func classify(path string, record int64, err error) error {
	if qcerr.KindOf(err) != qcerr.Other {
		return qcerr.E(qcerr.Path(path), err)
	}
	if record > 0 {
		return qcerr.E(qcerr.InputFormat, qcerr.Path(path), "record "+strconv.FormatInt(record, 10), err)
	}
	return qcerr.E(qcerr.InputFormat, qcerr.Path(path), "header", err)
}

// CollectAll summarizes several alignment files into one Stats.
func CollectAll(ctx context.Context, paths []string, opts Opts) (Stats, error) {
	var total Stats
	for _, path := range paths {
		s, err := Collect(ctx, path, opts)
		if err != nil {
			return Stats{}, err
		}
		total.Merge(s)
	}
	return total, nil
}
