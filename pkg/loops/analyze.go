/*
	Copyright 2024 Google Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

		https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package loops

import (
	"cmp"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/google/go-findloops/pkg/pipeline"
	"github.com/google/go-findloops/pkg/suffixtree"
)

// Loop is a repeated run of symbols.
type Loop struct {
	// Start is the first offset at which the body occurs.
	Start int
	// Length is the body length in symbols.
	Length int
	// Occurrences is the number of offsets at which the body occurs.
	// Occurrences may overlap.
	Occurrences int
	// Offsets are the ascending offsets of every occurrence.
	Offsets []int
	// Symbols is the body.  It is a view into the analyzed sequence.
	Symbols suffixtree.Sequence
}

// Result is the outcome of analyzing one Job.
type Result struct {
	Job Job
	// Length is the number of symbols analyzed.
	Length int
	// Nodes is the size of the suffix tree.
	Nodes int
	// Loops are ordered longest first, then most frequent, then earliest.
	Loops     []Loop
	BuildTime time.Duration
	WalkTime  time.Duration
	// Err is set when the job's sequence could not be analyzed.  Other jobs
	// are unaffected.
	Err error
}

// work is the item flowing through the analysis pipeline.  Its builder is
// kept when the item is recycled.
type work struct {
	index   int
	job     Job
	builder *suffixtree.Builder
	result  Result
}

// Analyze analyzes jobs with opts.Workers concurrent workers and returns their
// results in job order.  A job whose sequence is invalid only fails its own
// Result; a malformed tree aborts the whole run.  Metrics are returned when
// opts.Measure is set.
func Analyze(jobs []Job, opts Options) ([]Result, *pipeline.Metrics, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	logger := opts.logger()
	results := make([]Result, len(jobs))
	producer := pipeline.NewRecyclingProducer(func(get func() (*work, bool), put func(*work)) error {
		for i, job := range jobs {
			w, ok := get()
			if !ok {
				w = &work{builder: suffixtree.NewBuilder()}
			}
			w.index, w.job, w.result = i, job, Result{}
			put(w)
		}
		return nil
	}, pipeline.Name("jobs"))
	analyzer := pipeline.NewStage(func(w *work) (*work, error) {
		res, err := analyze(w.builder, w.job, opts, logger)
		w.result = res
		return w, err
	}, pipeline.Name("analyze"), pipeline.Concurrency(uint(opts.Workers)))
	collector := pipeline.NewStage(func(w *work) (*work, error) {
		results[w.index] = w.result
		return w, nil
	}, pipeline.Name("collect"))

	var (
		metrics *pipeline.Metrics
		err     error
	)
	switch {
	case opts.Measure:
		metrics, err = pipeline.Measure(producer, analyzer, collector)
		metrics.Log(logger)
	case opts.Workers == 1:
		err = pipeline.SequentialDo(producer, analyzer, collector)
	default:
		err = pipeline.Do(producer, analyzer, collector)
	}
	if err != nil {
		return nil, metrics, err
	}
	return results, metrics, nil
}

// AnalyzeOne analyzes a single job on the calling goroutine.
func AnalyzeOne(job Job, opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	return analyze(suffixtree.NewBuilder(), job, opts, opts.logger())
}

func analyze(b *suffixtree.Builder, job Job, opts Options, logger *zap.Logger) (Result, error) {
	logger = logger.With(zap.String("image", job.Image), zap.Uint32("thread", job.Thread))
	res := Result{Job: job, Length: len(job.Symbols)}
	build := b.Build
	if opts.Naive {
		build = b.BuildNaive
	}
	start := time.Now()
	tree, err := build(suffixtree.Terminate(job.Symbols))
	res.BuildTime = time.Since(start)
	if err != nil {
		if errors.Is(err, suffixtree.ErrInvalidInput) {
			logger.Warn("skipping sequence", zap.Error(err))
			res.Err = err
			return res, nil
		}
		return res, errors.Wrapf(err, "%s thread %d", job.Image, job.Thread)
	}
	res.Nodes = tree.NumNodes()

	start = time.Now()
	res.Loops, err = findLoops(tree, opts)
	res.WalkTime = time.Since(start)
	if err != nil {
		return res, errors.Wrapf(err, "%s thread %d", job.Image, job.Thread)
	}
	logger.Debug("analyzed sequence",
		zap.Int("symbols", res.Length),
		zap.Int("nodes", res.Nodes),
		zap.Int("loops", len(res.Loops)),
		zap.Duration("build", res.BuildTime),
		zap.Duration("walk", res.WalkTime),
	)
	return res, nil
}

// findLoops collects the maximal repeats of tree that pass the thresholds in
// opts, ranks them and keeps the best opts.MaxLoops.  Offsets are only listed
// for the loops kept.
func findLoops(tree *suffixtree.Tree, opts Options) ([]Loop, error) {
	var cands []suffixtree.Candidate
	if err := suffixtree.Walk(tree, func(c suffixtree.Candidate) error {
		if c.PathLength >= opts.MinLength && c.Occurrences >= opts.MinOccurrences {
			cands = append(cands, c)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	slices.SortFunc(cands, compareCandidates)
	if opts.MaxLoops > 0 && len(cands) > opts.MaxLoops {
		cands = cands[:opts.MaxLoops]
	}
	ret := make([]Loop, len(cands))
	for i, c := range cands {
		ret[i] = Loop{
			Start:       c.First,
			Length:      c.PathLength,
			Occurrences: c.Occurrences,
			Offsets:     c.Offsets(),
			Symbols:     c.Label(),
		}
	}
	return ret, nil
}

// compareCandidates orders longer bodies first, then more frequent ones, then
// earlier ones.  Distinct repeats never compare equal.
func compareCandidates(a, b suffixtree.Candidate) int {
	if c := cmp.Compare(b.PathLength, a.PathLength); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Occurrences, a.Occurrences); c != 0 {
		return c
	}
	return cmp.Compare(a.First, b.First)
}
