// Binary findloops reports the hot loops a traced program executed within one
// of its images.
//
// A trace is a directory holding a meta.bin file, which lists the executable
// regions of the traced process, and one thread-<tid>.bin file per thread.
// For each thread that executed the image named by --image-name, findloops
// builds a suffix tree over the thread's pcs in that image and reports the
// longest, most repeated runs of instructions:
//
//	findloops loops -t trace.dir -n libfoo.dylib --min-length 4
//	findloops dump -t trace.dir
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/google/go-findloops/pkg/loops"
	"github.com/google/go-findloops/pkg/trace"
)

type loopsFlags struct {
	cmd            *kingpin.CmdClause
	traceDir       *string
	imageName      *string
	config         *string
	minLength      *int
	minOccurrences *int
	maxLoops       *int
	workers        *int
	basicBlocks    *bool
	naive          *bool
	measure        *bool
	// set records which option flags appeared on the command line.
	set struct {
		minLength, minOccurrences, maxLoops, workers bool
		basicBlocks, naive, measure                  bool
	}
}

type cli struct {
	app     *kingpin.Application
	verbose *bool
	loops   loopsFlags
	dump    struct {
		cmd      *kingpin.CmdClause
		traceDir *string
	}
}

func newCLI() *cli {
	c := &cli{app: kingpin.New("findloops", "Find hot loops in execution traces")}
	c.app.HelpFlag.Short('h')
	c.verbose = c.app.Flag("verbose", "Log progress and diagnostics").Short('v').Bool()

	defaults := loops.DefaultOptions()
	lf := &c.loops
	lf.cmd = c.app.Command("loops", "Report the loops executed within an image").Default()
	lf.traceDir = lf.cmd.Flag("trace-file", "Trace directory").Short('t').Required().ExistingDir()
	lf.imageName = lf.cmd.Flag("image-name", "Name of the image to analyze, e.g. libfoo.dylib").Short('n').Required().String()
	lf.config = lf.cmd.Flag("config", "TOML file of option defaults; flags take precedence").ExistingFile()
	lf.minLength = lf.cmd.Flag("min-length", "Shortest loop body reported, in instructions").
		Action(setByUser(&lf.set.minLength)).Default(strconv.Itoa(defaults.MinLength)).Int()
	lf.minOccurrences = lf.cmd.Flag("min-occurrences", "Fewest occurrences of a reported loop body").
		Action(setByUser(&lf.set.minOccurrences)).Default(strconv.Itoa(defaults.MinOccurrences)).Int()
	lf.maxLoops = lf.cmd.Flag("max-loops", "Loops reported per thread; 0 reports all").
		Action(setByUser(&lf.set.maxLoops)).Default(strconv.Itoa(defaults.MaxLoops)).Int()
	lf.workers = lf.cmd.Flag("workers", "Threads analyzed concurrently").
		Action(setByUser(&lf.set.workers)).Default(strconv.Itoa(defaults.Workers)).Int()
	lf.basicBlocks = lf.cmd.Flag("basic-blocks", "Analyze basic blocks instead of single instructions").
		Action(setByUser(&lf.set.basicBlocks)).Bool()
	lf.naive = lf.cmd.Flag("naive", "Build suffix trees by quadratic insertion").
		Action(setByUser(&lf.set.naive)).Bool()
	lf.measure = lf.cmd.Flag("measure", "Report pipeline and per-thread timings").
		Action(setByUser(&lf.set.measure)).Bool()

	c.dump.cmd = c.app.Command("dump", "Print the raw trace")
	c.dump.traceDir = c.dump.cmd.Flag("trace-file", "Trace directory").Short('t').Required().ExistingDir()
	return c
}

// setByUser returns a flag action recording that the flag appeared on the
// command line.  Kingpin only runs flag actions for parsed flags, never for
// defaults.
func setByUser(set *bool) kingpin.Action {
	return func(*kingpin.ParseContext) error {
		*set = true
		return nil
	}
}

func (c *cli) run(args []string, stdout io.Writer) error {
	cmd, err := c.app.Parse(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(*c.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	switch cmd {
	case c.loops.cmd.FullCommand():
		return c.runLoops(stdout, logger)
	case c.dump.cmd.FullCommand():
		l, err := trace.Open(*c.dump.traceDir)
		if err != nil {
			return err
		}
		return l.Dump(stdout)
	}
	return errors.Errorf("unknown command %q", cmd)
}

// options merges the built-in defaults, the config file and the flags, in
// increasing order of precedence.
func (lf *loopsFlags) options() (loops.Options, error) {
	opts := loops.DefaultOptions()
	if *lf.config != "" {
		cfg, err := loadConfig(*lf.config)
		if err != nil {
			return loops.Options{}, err
		}
		cfg.apply(&opts)
	}
	if lf.set.minLength {
		opts.MinLength = *lf.minLength
	}
	if lf.set.minOccurrences {
		opts.MinOccurrences = *lf.minOccurrences
	}
	if lf.set.maxLoops {
		opts.MaxLoops = *lf.maxLoops
	}
	if lf.set.workers {
		opts.Workers = *lf.workers
	}
	if lf.set.basicBlocks {
		opts.BasicBlocks = *lf.basicBlocks
	}
	if lf.set.naive {
		opts.Naive = *lf.naive
	}
	if lf.set.measure {
		opts.Measure = *lf.measure
	}
	return opts, nil
}

func (c *cli) runLoops(stdout io.Writer, logger *zap.Logger) error {
	opts, err := c.loops.options()
	if err != nil {
		return err
	}
	opts.Logger = logger
	l, err := trace.Open(*c.loops.traceDir)
	if err != nil {
		return err
	}
	logger.Info("opened trace",
		zap.String("dir", *c.loops.traceDir),
		zap.Int("regions", len(l.Regions())),
		zap.Int("threads", len(l.Threads())),
		zap.Uint64("instructions", l.NumInst()),
	)
	jobs, err := loops.Jobs(l, *c.loops.imageName, opts)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		fmt.Fprintf(stdout, "thread %d len(pcs): %d\n", job.Thread, len(job.Symbols))
	}
	results, metrics, err := loops.Analyze(jobs, opts)
	if err != nil {
		return err
	}
	if metrics != nil {
		fmt.Fprintln(stdout, metrics)
	}
	return loops.Report(stdout, results, opts)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

func main() {
	c := newCLI()
	c.app.FatalIfError(c.run(os.Args[1:], os.Stdout), "")
}
