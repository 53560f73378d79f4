package seqio

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/kdm9/seqchk/encoding/fasta"
	"github.com/kdm9/seqchk/encoding/fastq"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/klauspost/compress/gzip"
)

// ReadFile reads every record of path in file order and calls fn for each.
// It stops at the first error returned by fn, by the file, or by ctx, and
// returns it. ReadFile may be called again on the same path to restart from
// the beginning.
func ReadFile(ctx context.Context, path string, opts Opts, fn func(Read) error) (err error) {
	opts = opts.withDefaults()
	f, err := open(ctx, path, opts)
	if err != nil {
		return err
	}
	var d *decoded
	defer func() {
		once := errors.Once{}
		once.Set(err)
		if d != nil {
			if cerr := d.close(); cerr != nil {
				once.Set(qcerr.E(qcerr.IO, qcerr.Path(path), "decompress", cerr))
			}
		}
		if cerr := f.Close(ctx); cerr != nil {
			once.Set(qcerr.E(qcerr.IO, qcerr.Path(path), "close", cerr))
		}
		err = once.Err()
	}()
	if d, err = decode(ctx, f, opts); err != nil {
		return classify(path, 0, err)
	}
	switch d.format {
	case FASTQ:
		return readFASTQ(ctx, path, d, fn)
	case FASTA:
		return readFASTA(ctx, path, d, fn)
	}
	return nil
}

func readFASTQ(ctx context.Context, path string, d *decoded, fn func(Read) error) error {
	sc := fastq.NewScanner(d.r, fastq.ID|fastq.Seq|fastq.Qual)
	var fr fastq.Read
	for sc.Scan(&fr) {
		if done(ctx) {
			return CtxErr(ctx, qcerr.Path(path))
		}
		if err := fn(Read{ID: fr.ID[1:], Seq: fr.Seq, Qual: fr.Qual, Source: path}); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return classify(path, sc.Record(), err)
	}
	return nil
}

func readFASTA(ctx context.Context, path string, d *decoded, fn func(Read) error) error {
	sc := fasta.NewScanner(d.r)
	var rec fasta.Record
	for sc.Scan(&rec) {
		if done(ctx) {
			return CtxErr(ctx, qcerr.Path(path))
		}
		id := rec.Name
		if rec.Comment != "" {
			id += " " + rec.Comment
		}
		if err := fn(Read{ID: id, Seq: rec.Seq, Source: path}); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return classify(path, sc.Record(), err)
	}
	return nil
}

// classify attaches the path and record number to a scanning error, and
// gives it an InputFormat or IO kind if it has none.
func classify(path string, record int, err error) error {
	kind := qcerr.KindOf(err)
	if kind == qcerr.Other {
		switch err {
		case fastq.ErrInvalid, fastq.ErrShort, fastq.ErrLength, fasta.ErrInvalid, bufio.ErrTooLong,
			gzip.ErrChecksum, gzip.ErrHeader, io.ErrUnexpectedEOF:
			kind = qcerr.InputFormat
		default:
			kind = qcerr.IO
		}
	}
	if record > 0 {
		return qcerr.E(kind, qcerr.Path(path), fmt.Sprintf("record %d", record), err)
	}
	return qcerr.E(kind, qcerr.Path(path), err)
}

func done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
