// Command seqchk QCs sequencing runs and checks that they are the samples
// they are supposed to be.
//
//	seqchk check -refs refs.tsv -expect sampleX -report report.json reads.fq.gz
//	seqchk check -runs runs.tsv -refs refs.tsv -thresholds qc.yaml -report report.json
//	seqchk sketch -o sampleX.fp sampleX.fa
//	seqchk compare a.fp b.fp
package main

import "github.com/kdm9/seqchk/cmd/seqchk/cmd"

func main() {
	cmd.Run()
}
