package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/kdm9/seqchk/check"
	"v.io/x/lib/cmdline"
)

func newCmdVersion() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "version",
		Short: "Print the seqchk version",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return env.UsageErrorf("version takes no arguments, but got %v", argv)
		}
		_, err := fmt.Fprintln(env.Stdout, "seqchk", check.Version)
		return err
	})
	return cmd
}

func newRoot(exitCode *int) *cmdline.Command {
	return &cmdline.Command{
		Name:     "seqchk",
		Short:    "Quickly QC and identity-check a new sequencing run",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdCheck(exitCode),
			newCmdSketch(),
			newCmdCompare(),
			newCmdVersion(),
		},
	}
}

// Run runs the seqchk command line and exits. The exit status is 0 if every
// run passed, 2 if some run only failed WARN rules, and 1 if a run failed a
// FAIL rule or seqchk could not complete, including usage errors.
func Run() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	var exitCode int
	env := cmdline.EnvFromOS()
	runner, args, err := cmdline.Parse(newRoot(&exitCode), env, os.Args[1:])
	if err == nil {
		err = runner.Run(env, args)
	}
	if err == nil {
		os.Exit(exitCode)
	}
	// Usage errors report exit code 2, which is reserved for WARN.
	if cmdline.ExitCode(err, env.Stderr) == 0 {
		os.Exit(0)
	}
	os.Exit(check.ExitFail)
}
