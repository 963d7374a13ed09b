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
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/google/go-findloops/pkg/suffixtree"
	"github.com/google/go-findloops/pkg/trace"
)

const (
	base = 0x100000
	pA   = base + 0x10
	pB   = base + 0x14
	pC   = base + 0x18
	pD   = base + 0x40
)

// prologueLoop runs a three-instruction body three times between two visits
// to D.
var prologueLoop = []uint64{pD, pA, pB, pC, pA, pB, pC, pA, pB, pC, pD}

func seq(pcs ...uint64) suffixtree.Sequence {
	ret := make(suffixtree.Sequence, len(pcs))
	for i, pc := range pcs {
		ret[i] = suffixtree.Symbol(pc)
	}
	return ret
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	return opts
}

var ignoreTimes = cmpopts.IgnoreFields(Result{}, "BuildTime", "WalkTime")

func TestAnalyzeOne(t *testing.T) {
	twice := Loop{Start: 1, Length: 6, Occurrences: 2, Offsets: []int{1, 4}, Symbols: seq(pA, pB, pC, pA, pB, pC)}
	thrice := Loop{Start: 1, Length: 3, Occurrences: 3, Offsets: []int{1, 4, 7}, Symbols: seq(pA, pB, pC)}
	bookend := Loop{Start: 0, Length: 1, Occurrences: 2, Offsets: []int{0, 10}, Symbols: seq(pD)}
	for _, test := range []struct {
		description string
		opts        func(*Options)
		want        []Loop
	}{{
		description: "defaults",
		want:        []Loop{twice, thrice},
	}, {
		description: "single symbols",
		opts:        func(o *Options) { o.MinLength = 1 },
		want:        []Loop{twice, thrice, bookend},
	}, {
		description: "three occurrences",
		opts:        func(o *Options) { o.MinOccurrences = 3 },
		want:        []Loop{thrice},
	}, {
		description: "capped",
		opts:        func(o *Options) { o.MaxLoops = 1 },
		want:        []Loop{twice},
	}, {
		description: "long bodies only",
		opts:        func(o *Options) { o.MinLength = 7 },
		want:        nil,
	}, {
		description: "naive",
		opts:        func(o *Options) { o.Naive = true },
		want:        []Loop{twice, thrice},
	}} {
		t.Run(test.description, func(t *testing.T) {
			opts := testOptions(t)
			if test.opts != nil {
				test.opts(&opts)
			}
			job := Job{Image: "main", Thread: 1, Base: base, Symbols: prologueLoop}
			got, err := AnalyzeOne(job, opts)
			require.NoError(t, err)
			require.NoError(t, got.Err)
			require.Equal(t, len(prologueLoop), got.Length)
			if diff := cmp.Diff(test.want, got.Loops, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("AnalyzeOne() loops diff (-want +got) %s", diff)
			}
		})
	}
}

func TestAnalyzeEdgeSequences(t *testing.T) {
	for _, test := range []struct {
		description string
		symbols     []uint64
		want        []Loop
	}{{
		description: "empty",
		symbols:     nil,
		want:        nil,
	}, {
		description: "no repeats",
		symbols:     []uint64{pA, pB, pC},
		want:        nil,
	}, {
		description: "tight loop",
		symbols:     []uint64{pA, pA, pA, pA},
		want: []Loop{
			{Start: 0, Length: 3, Occurrences: 2, Offsets: []int{0, 1}, Symbols: seq(pA, pA, pA)},
			{Start: 0, Length: 2, Occurrences: 3, Offsets: []int{0, 1, 2}, Symbols: seq(pA, pA)},
		},
	}} {
		t.Run(test.description, func(t *testing.T) {
			got, err := AnalyzeOne(Job{Image: "main", Symbols: test.symbols}, testOptions(t))
			require.NoError(t, err)
			if diff := cmp.Diff(test.want, got.Loops, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("AnalyzeOne() loops diff (-want +got) %s", diff)
			}
		})
	}
}

func randomJobs(rng *rand.Rand, n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		syms := make([]uint64, 50+rng.Intn(200))
		for j := range syms {
			syms[j] = base + uint64(rng.Intn(4))*4
		}
		jobs[i] = Job{Image: "main", Thread: uint32(i), Base: base, Symbols: syms}
	}
	return jobs
}

func TestAnalyzeWorkersAgree(t *testing.T) {
	jobs := randomJobs(rand.New(rand.NewSource(11)), 25)
	opts := testOptions(t)
	opts.Workers = 1
	want, _, err := Analyze(jobs, opts)
	require.NoError(t, err)
	require.Len(t, want, len(jobs))
	for i, res := range want {
		require.Equal(t, uint32(i), res.Job.Thread, "results out of job order")
		single, err := AnalyzeOne(jobs[i], opts)
		require.NoError(t, err)
		if diff := cmp.Diff(single, res, ignoreTimes); diff != "" {
			t.Errorf("job %d: Analyze() differs from AnalyzeOne(), diff (-want +got) %s", i, diff)
		}
	}
	for _, workers := range []int{2, 4, 8} {
		opts.Workers = workers
		got, _, err := Analyze(jobs, opts)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
			t.Errorf("Analyze() with %d workers diff (-want +got) %s", workers, diff)
		}
	}
	opts.Naive = true
	got, _, err := Analyze(jobs, opts)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, ignoreTimes, cmpopts.IgnoreFields(Result{}, "Nodes")); diff != "" {
		t.Errorf("Analyze() with naive builds diff (-want +got) %s", diff)
	}
}

func TestAnalyzeInvalidJob(t *testing.T) {
	jobs := []Job{
		{Image: "main", Thread: 1, Symbols: prologueLoop},
		{Image: "main", Thread: 2, Symbols: []uint64{pA, math.MaxUint64, pA}},
		{Image: "main", Thread: 3, Symbols: prologueLoop},
	}
	for _, workers := range []int{1, 3} {
		opts := testOptions(t)
		opts.Workers = workers
		got, _, err := Analyze(jobs, opts)
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.NoError(t, got[0].Err)
		require.ErrorIs(t, got[1].Err, suffixtree.ErrInvalidInput)
		require.Empty(t, got[1].Loops)
		require.NoError(t, got[2].Err)
		require.Len(t, got[2].Loops, 2)
	}
}

func TestAnalyzeMeasure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	opts := DefaultOptions()
	opts.Workers = 2
	opts.Measure = true
	opts.Logger = zap.New(core)
	jobs := randomJobs(rand.New(rand.NewSource(13)), 6)
	results, metrics, err := Analyze(jobs, opts)
	require.NoError(t, err)
	require.Len(t, results, len(jobs))
	require.NotNil(t, metrics)
	require.Equal(t, uint(len(jobs)), metrics.ProducerMetrics[0].Items)
	require.Len(t, metrics.StageMetrics[0], 2, "analyze stage instances")
	require.Equal(t, 1, logs.FilterMessage("pipeline finished").Len())
	require.Equal(t, 2, logs.FilterField(zap.String("stage", "analyze")).Len())
}

func TestInvalidOptions(t *testing.T) {
	for _, test := range []struct {
		description string
		opts        func(*Options)
	}{
		{"zero length", func(o *Options) { o.MinLength = 0 }},
		{"zero occurrences", func(o *Options) { o.MinOccurrences = 0 }},
		{"negative cap", func(o *Options) { o.MaxLoops = -1 }},
		{"no workers", func(o *Options) { o.Workers = 0 }},
	} {
		t.Run(test.description, func(t *testing.T) {
			opts := DefaultOptions()
			test.opts(&opts)
			_, _, err := Analyze(nil, opts)
			require.Error(t, err)
			_, err = AnalyzeOne(Job{}, opts)
			require.Error(t, err)
		})
	}
}

func TestJobs(t *testing.T) {
	l := trace.NewLog()
	l.AddRegion(trace.Region{Base: base, Size: 0x1000, Path: "/bin/main"})
	l.AddRegion(trace.Region{Base: 0x900000, Size: 0x1000, Path: "/usr/lib/libc.dylib"})
	for _, pc := range []uint64{pA, pB, 0x900010, pC, pA, pB, pC} {
		l.Add(2, pc)
	}
	l.Add(5, 0x900010)

	opts := DefaultOptions()
	got, err := Jobs(l, "main", opts)
	require.NoError(t, err)
	want := []Job{{Image: "main", Thread: 2, Base: base, Symbols: []uint64{pA, pB, pC, pA, pB, pC}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Jobs() diff (-want +got) %s", diff)
	}

	opts.BasicBlocks = true
	got, err = Jobs(l, "main", opts)
	require.NoError(t, err)
	want[0].Symbols = []uint64{pA, pA}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Jobs() with basic blocks diff (-want +got) %s", diff)
	}

	_, err = Jobs(l, "missing", opts)
	require.ErrorIs(t, err, trace.ErrImageNotFound)
}

func TestReport(t *testing.T) {
	opts := testOptions(t)
	good, err := AnalyzeOne(Job{Image: "main", Thread: 1, Base: base, Symbols: prologueLoop}, opts)
	require.NoError(t, err)
	empty, err := AnalyzeOne(Job{Image: "main", Thread: 2, Base: base, Symbols: []uint64{pA}}, opts)
	require.NoError(t, err)
	bad, err := AnalyzeOne(Job{Image: "main", Thread: 3, Base: base, Symbols: []uint64{math.MaxUint64}}, opts)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Report(&buf, []Result{good, empty, bad}, opts))
	got := buf.String()
	for _, want := range []string{
		"main thread 1: 11 symbols, ",
		", 2 loops\n",
		"LENGTH",
		"OCCURRENCES",
		"FIRST OFFSET",
		"0x100010",
		"+0x10 +0x14 +0x18 +0x10 ...",
		"main thread 2: 1 symbols, 3 tree nodes, no loops found",
		"main thread 3: 1 symbols: ",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Report() missing %q in:\n%s", want, got)
		}
	}
}

func TestPreview(t *testing.T) {
	for _, test := range []struct {
		symbols suffixtree.Sequence
		want    string
	}{
		{seq(pA), "+0x10"},
		{seq(pA, pB, pC, pD), "+0x10 +0x14 +0x18 +0x40"},
		{seq(pA, pB, pC, pD, pA), "+0x10 +0x14 +0x18 +0x40 ..."},
	} {
		if got := preview(Loop{Symbols: test.symbols}, base); got != test.want {
			t.Errorf("preview(%v) = %q, want %q", test.symbols, got, test.want)
		}
	}
}
