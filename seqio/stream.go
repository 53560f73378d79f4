package seqio

import (
	"context"

	"github.com/grailbio/base/log"
)

// Stream is a lazy sequence of reads from one or more files, in file order.
// A reader goroutine fills a bounded buffer of read batches; it blocks when
// the buffer is full, so memory use does not depend on how far reading runs
// ahead of consumption.
//
// Its Scan/Err protocol matches fastq.Scanner. A Stream is not threadsafe.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan []Read

	// perr is the reader goroutine's error. It is set before ch is closed.
	perr error

	batch []Read
	i     int
	err   error
	done  bool
	n     int64
}

// Open starts streaming reads from paths. The caller must Close the stream.
// Canceling ctx aborts the stream at the next file open or read boundary.
func Open(ctx context.Context, paths []string, opts Opts) *Stream {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan []Read, opts.BufferSize),
	}
	go s.produce(paths, opts)
	return s
}

func (s *Stream) produce(paths []string, opts Opts) {
	defer close(s.ch)
	batch := make([]Read, 0, opts.BatchSize)
	flush := func() error {
		select {
		case s.ch <- batch:
			batch = make([]Read, 0, opts.BatchSize)
			return nil
		case <-s.ctx.Done():
			return CtxErr(s.ctx)
		}
	}
	for _, path := range paths {
		var n int
		err := ReadFile(s.ctx, path, opts, func(r Read) error {
			n++
			batch = append(batch, r)
			if len(batch) == cap(batch) {
				return flush()
			}
			return nil
		})
		if err != nil {
			s.perr = err
			return
		}
		log.Debug.Printf("%s: read %d records", path, n)
	}
	if len(batch) > 0 {
		s.perr = flush()
	}
}

// Scan stores the next read in r. It returns false at the end of the input,
// on error, or once the stream's context is canceled; the caller should then
// check Err.
func (s *Stream) Scan(r *Read) bool {
	if s.err != nil || s.done {
		return false
	}
	if done(s.ctx) {
		s.err = CtxErr(s.ctx)
		return false
	}
	for s.i >= len(s.batch) {
		b, ok := <-s.ch
		if !ok {
			if s.err = s.perr; s.err == nil {
				s.done = true
			}
			return false
		}
		s.batch, s.i = b, 0
	}
	*r = s.batch[s.i]
	s.batch[s.i] = Read{}
	s.i++
	s.n++
	return true
}

// Count returns the number of reads returned by Scan so far.
func (s *Stream) Count() int64 { return s.n }

// Err returns the error that stopped the stream, or nil if it ran to the end
// of its input.
func (s *Stream) Err() error { return s.err }

// Close stops the reader goroutine and releases its buffers. It is safe to
// call Close before the stream is exhausted.
func (s *Stream) Close() {
	s.cancel()
	for range s.ch {
	}
}
