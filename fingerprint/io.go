package fingerprint

// Fingerprint files hold one or more fingerprints in a recordio file, one
// gob-encoded Fingerprint per record, zstd-compressed. The file version is
// stored in a recordio header.

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/kdm9/seqchk/qcerr"
)

const (
	// <fileVersionHeader, fileVersion> is stored in a recordio header.
	fileVersionHeader = "seqchkversion"
	fileVersion       = "SEQCHK_FP_V1"
)

func init() {
	recordiozstd.Init()
}

// WriteFile writes fps to path. The file appears only once it is complete.
func WriteFile(ctx context.Context, path string, fps ...*Fingerprint) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return qcerr.E(qcerr.IO, qcerr.Path(path), "create", err)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(fileVersionHeader, fileVersion)
	var buf bytes.Buffer
	for _, fp := range fps {
		buf.Reset()
		if err := gob.NewEncoder(&buf).Encode(fp); err != nil {
			out.Discard(ctx)
			return qcerr.E(qcerr.IO, qcerr.Path(path), qcerr.Sample(fp.Name), "encode", err)
		}
		w.Append(append([]byte(nil), buf.Bytes()...))
	}
	if err := w.Finish(); err != nil {
		out.Discard(ctx)
		return qcerr.E(qcerr.IO, qcerr.Path(path), "write", err)
	}
	if err := out.Close(ctx); err != nil {
		return qcerr.E(qcerr.IO, qcerr.Path(path), "close", err)
	}
	return nil
}

// ReadFile reads the fingerprints in a file written by WriteFile. A file that
// is not a fingerprint file, or of another version, fails with an
// InputFormatError.
func ReadFile(ctx context.Context, path string) (fps []*Fingerprint, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, qcerr.E(qcerr.IO, qcerr.Path(path), "open", err)
	}
	defer func() {
		once := errors.Once{}
		once.Set(err)
		if cerr := in.Close(ctx); cerr != nil {
			once.Set(qcerr.E(qcerr.IO, qcerr.Path(path), "close", cerr))
		}
		err = once.Err()
	}()
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	if err := r.Err(); err != nil {
		return nil, qcerr.E(qcerr.InputFormat, qcerr.Path(path), "not a fingerprint file", err)
	}
	version := ""
	for _, kv := range r.Header() {
		if kv.Key == fileVersionHeader {
			version, _ = kv.Value.(string)
			break
		}
	}
	if version != fileVersion {
		return nil, qcerr.E(qcerr.InputFormat, qcerr.Path(path),
			"fingerprint file version mismatch: got", quote(version), "want", fileVersion)
	}
	for r.Scan() {
		fp := new(Fingerprint)
		if err := gob.NewDecoder(bytes.NewReader(r.Get().([]byte))).Decode(fp); err != nil {
			return nil, qcerr.E(qcerr.InputFormat, qcerr.Path(path), "decode", err)
		}
		if err := fp.check(); err != nil {
			return nil, qcerr.E(qcerr.InputFormat, qcerr.Path(path), qcerr.Sample(fp.Name), err)
		}
		fps = append(fps, fp)
	}
	if err := r.Err(); err != nil {
		return nil, qcerr.E(qcerr.InputFormat, qcerr.Path(path), err)
	}
	return fps, nil
}

// check verifies the structural invariants of a decoded fingerprint.
func (f *Fingerprint) check() error {
	if err := f.Opts.Validate(); err != nil {
		return err
	}
	if len(f.Lengths) == 0 {
		f.Lengths = make([]uint64, f.Opts.MaxTrackedLength)
	}
	switch {
	case len(f.Lengths) != f.Opts.MaxTrackedLength:
		return qcerr.E(qcerr.InputFormat, "length histogram does not match parameters")
	case len(f.Sketch) > f.Opts.SketchSize, len(f.Dups) > f.Opts.DupSketchSize:
		return qcerr.E(qcerr.InputFormat, "sketch larger than its capacity")
	}
	for _, s := range [][]Entry{f.Sketch, f.Dups} {
		for i := 1; i < len(s); i++ {
			if s[i-1].Hash >= s[i].Hash {
				return qcerr.E(qcerr.InputFormat, "sketch is not sorted")
			}
		}
	}
	return nil
}

func quote(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
