package seqio

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/kdm9/seqchk/qcerr"
	"github.com/klauspost/compress/gzip"
)

// openFile is the file-open primitive. Tests replace it to inject failures.
var openFile = file.Open

// Format is the record format of an input file.
type Format int

const (
	// Empty is a file with no records.
	Empty Format = iota
	// FASTQ is a four-line-per-record FASTQ file.
	FASTQ
	// FASTA is a FASTA file, possibly with multi-line records.
	FASTA
)

// CtxErr converts the error of a done context into a Canceled or
// TimeoutError.
func CtxErr(ctx context.Context, args ...interface{}) error {
	kind := qcerr.Canceled
	if ctx.Err() == context.DeadlineExceeded {
		kind = qcerr.Timeout
	}
	return qcerr.E(append([]interface{}{kind, ctx.Err()}, args...)...)
}

// OpenTimeout opens path, failing with a TimeoutError if the open does not
// return within d. A zero d opens directly. A file whose open completes after
// the deadline is closed in the background.
func OpenTimeout(ctx context.Context, path string, d time.Duration) (file.File, error) {
	if d <= 0 {
		return openFile(ctx, path)
	}
	type result struct {
		f   file.File
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := openFile(ctx, path)
		done <- result{f, err}
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	var err error
	select {
	case r := <-done:
		return r.f, r.err
	case <-timer.C:
		err = qcerr.E(qcerr.Timeout, qcerr.Path(path), "open did not complete within", d.String())
	case <-ctx.Done():
		err = CtxErr(ctx, qcerr.Path(path), "open")
	}
	go func() {
		if r := <-done; r.err == nil {
			r.f.Close(context.Background())
		}
	}()
	return nil, err
}

// transient reports whether a failed open is worth retrying. Missing files,
// permission problems, timeouts and cancellation are final.
func transient(err error) bool {
	switch {
	case os.IsNotExist(err), os.IsPermission(err):
		return false
	case errors.Is(errors.NotExist, err), errors.Is(errors.NotAllowed, err):
		return false
	case qcerr.Is(qcerr.Timeout, err), qcerr.Is(qcerr.Canceled, err):
		return false
	}
	return true
}

// open opens path for reading, retrying transient failures with exponential
// backoff.
func open(ctx context.Context, path string, opts Opts) (file.File, error) {
	// MaxTries counts the first attempt.
	policy := retry.MaxTries(retry.Backoff(opts.RetryBackoff, 32*opts.RetryBackoff, 2), opts.Retries+1)
	for retries := 0; ; retries++ {
		if ctx.Err() != nil {
			return nil, CtxErr(ctx, qcerr.Path(path))
		}
		f, err := OpenTimeout(ctx, path, opts.Timeout)
		if err == nil {
			return f, nil
		}
		if qcerr.KindOf(err) != qcerr.Other {
			return nil, err
		}
		if !transient(err) {
			return nil, qcerr.E(qcerr.IO, qcerr.Path(path), "open", err)
		}
		if werr := retry.Wait(ctx, policy, retries); werr != nil {
			if ctx.Err() != nil {
				return nil, CtxErr(ctx, qcerr.Path(path))
			}
			return nil, qcerr.E(qcerr.IO, qcerr.Path(path), "open failed after retries", err)
		}
		log.Printf("%s: retrying open after error: %v", path, err)
	}
}

// NewTimeoutReader returns a reader that fails with a TimeoutError when a
// Read on r does not return within timeout. Other errors from r, except
// io.EOF, become IOErrors naming path. Once a Read times out or ctx is done,
// every later Read fails with the same error.
func NewTimeoutReader(ctx context.Context, r io.Reader, timeout time.Duration, path string) io.Reader {
	return &timeoutReader{ctx: ctx, r: r, timeout: timeout, path: path}
}

// timeoutReader bounds the duration of each Read call on r. Reads on r go
// through buf, which is abandoned along with the reader on the first timeout,
// so a late Read never writes to the caller's slice.
type timeoutReader struct {
	ctx     context.Context
	r       io.Reader
	timeout time.Duration
	path    string
	buf     []byte
	err     error
}

type readResult struct {
	n   int
	err error
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	if t.timeout <= 0 {
		n, err := t.r.Read(p)
		return n, t.wrap(err)
	}
	if cap(t.buf) < len(p) {
		t.buf = make([]byte, len(p))
	}
	buf := t.buf[:len(p)]
	done := make(chan readResult, 1)
	go func() {
		n, err := t.r.Read(buf)
		done <- readResult{n, err}
	}()
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return copy(p, buf[:r.n]), t.wrap(r.err)
	case <-timer.C:
		t.err = qcerr.E(qcerr.Timeout, qcerr.Path(t.path), "read did not complete within", t.timeout.String())
	case <-t.ctx.Done():
		t.err = CtxErr(t.ctx, qcerr.Path(t.path), "read")
	}
	t.buf = nil
	return 0, t.err
}

func (t *timeoutReader) wrap(err error) error {
	if err != nil && err != io.EOF && qcerr.KindOf(err) == qcerr.Other {
		return qcerr.E(qcerr.IO, qcerr.Path(t.path), "read", err)
	}
	return err
}

// decoded is an open, decompressed input.
type decoded struct {
	r      *bufio.Reader
	format Format
	close  func() error
}

// decode wraps the raw file contents in a decompressor and detects the record
// format.
func decode(ctx context.Context, f file.File, opts Opts) (*decoded, error) {
	var raw io.Reader = f.Reader(ctx)
	if opts.Timeout > 0 {
		raw = NewTimeoutReader(ctx, raw, opts.Timeout, f.Name())
	}
	br := bufio.NewReaderSize(raw, 1<<20)
	d := &decoded{close: func() error { return nil }}
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	var body io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		// BGZF files are multi-member gzip streams; klauspost reads them in
		// multistream mode by default.
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, qcerr.E(qcerr.InputFormat, "gzip header", err)
		}
		body, d.close = gz, gz.Close
	} else if len(magic) > 0 {
		cr, _ := compress.NewReader(br)
		body, d.close = cr, cr.Close
	}
	d.r = bufio.NewReaderSize(body, 1<<20)
	for {
		b, err := d.r.Peek(1)
		if err == io.EOF {
			d.format = Empty
			return d, nil
		}
		if err != nil {
			d.close()
			return nil, err
		}
		switch b[0] {
		case '\n', '\r', ' ', '\t':
			d.r.ReadByte()
			continue
		case '@':
			d.format = FASTQ
		case '>':
			d.format = FASTA
		default:
			d.close()
			return nil, qcerr.E(qcerr.InputFormat, "neither FASTQ nor FASTA: unexpected leading byte", string(b[0:1]))
		}
		return d, nil
	}
}
