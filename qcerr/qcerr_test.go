package qcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestKindInheritance(t *testing.T) {
	cause := E(IO, Path("/tmp/x.fq"), "open failed", errors.New("disk on fire"))
	outer := E(Run("run1"), cause)
	expect.EQ(t, KindOf(outer), IO)
	expect.True(t, Is(IO, outer))
	expect.False(t, Is(Config, outer))
	expect.EQ(t, outer.Error(), "IOError: run run1: /tmp/x.fq: open failed: disk on fire")
}

func TestIsThroughForeignWrap(t *testing.T) {
	err := fmt.Errorf("context: %w", E(Timeout, "read stalled"))
	expect.True(t, Is(Timeout, err))
	expect.EQ(t, KindOf(err), Timeout)
	expect.EQ(t, KindOf(errors.New("plain")), Other)
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{E(Config, Metric("gc_fraction"), "bad comparator"), "ConfigError: metric gc_fraction: bad comparator"},
		{E(DuplicateKey, Sample("s1"), Path("refs.tsv")), "DuplicateKeyError: sample s1: refs.tsv"},
		{E(State, "finalized"), "StateError: finalized"},
		{E(NotFound, Sample("x"), E(NotFound, "no such entry")), "NotFoundError: sample x: no such entry"},
	}
	for _, test := range tests {
		expect.EQ(t, test.err.Error(), test.want)
	}
}

func TestKindString(t *testing.T) {
	expect.EQ(t, InsufficientData.String(), "InsufficientDataError")
	expect.EQ(t, Kind(99).String(), "Kind(99)")
}
