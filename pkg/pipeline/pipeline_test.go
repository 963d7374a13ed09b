/*
	Copyright 2023 Google Inc.

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

package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// trace is a work item: a named run of program counters and what the stages
// learned about it.
type trace struct {
	name     string
	pcs      []uint64
	distinct int
	summary  string
}

func parseTrace(tr *trace, spec string) error {
	name, body, ok := strings.Cut(spec, ":")
	if !ok {
		return fmt.Errorf("malformed trace %q", spec)
	}
	tr.name = name
	tr.pcs = tr.pcs[:0]
	for _, field := range strings.Fields(body) {
		var pc uint64
		if _, err := fmt.Sscanf(field, "0x%x", &pc); err != nil {
			return fmt.Errorf("trace %q: %w", name, err)
		}
		tr.pcs = append(tr.pcs, pc)
	}
	return nil
}

func TraceProducer(specs ...string) Producer[*trace] {
	return NewProducer(func(put func(*trace)) error {
		for _, spec := range specs {
			tr := &trace{}
			if err := parseTrace(tr, spec); err != nil {
				return err
			}
			put(tr)
		}
		return nil
	}, Name("trace producer"))
}

func RecyclingTraceProducer(incCreated, incRecycled func(), specs ...string) Producer[*trace] {
	return NewRecyclingProducer(func(get func() (*trace, bool), put func(*trace)) error {
		for _, spec := range specs {
			tr, ok := get()
			if ok {
				if incRecycled != nil {
					incRecycled()
				}
			} else {
				if incCreated != nil {
					incCreated()
				}
				tr = &trace{}
			}
			if err := parseTrace(tr, spec); err != nil {
				return err
			}
			put(tr)
		}
		return nil
	}, Name("recycling trace producer"))
}

var CountDistinct = NewStage(func(in *trace) (*trace, error) {
	seen := map[uint64]bool{}
	for _, pc := range in.pcs {
		seen[pc] = true
	}
	in.distinct = len(seen)
	return in, nil
}, Name("count distinct"), Concurrency(2))

var Summarize = NewStage(func(in *trace) (*trace, error) {
	in.summary = fmt.Sprintf("%s: %d pcs, %d distinct", in.name, len(in.pcs), in.distinct)
	return in, nil
}, Name("summarize"))

func Collect(mu *sync.Mutex, got *[]string) Stage[*trace] {
	return NewStage(func(in *trace) (*trace, error) {
		mu.Lock()
		defer mu.Unlock()
		*got = append(*got, in.summary)
		return in, nil
	}, Name("collect"))
}

func Oops[T any](after int) Stage[T] {
	return NewStage(func(in T) (T, error) {
		if after == 0 {
			return in, fmt.Errorf("oops")
		}
		after--
		return in, nil
	})
}

var traceSpecs = []string{
	"libfoo.dylib: 0x10 0x14 0x10 0x14",
	"libbar.dylib: 0x20 0x24 0x28",
	"main: 0x30",
	"libbaz.dylib:",
}

var wantSummaries = []string{
	"libbar.dylib: 3 pcs, 3 distinct",
	"libbaz.dylib: 0 pcs, 0 distinct",
	"libfoo.dylib: 4 pcs, 2 distinct",
	"main: 1 pcs, 1 distinct",
}

func TestPipeline(t *testing.T) {
	for _, test := range []struct {
		description string
		producer    func(...string) Producer[*trace]
		invoke      func(Producer[*trace], ...Stage[*trace]) error
	}{{
		description: "Do()",
		producer:    TraceProducer,
		invoke:      Do[*trace],
	}, {
		description: "Measure()",
		producer:    TraceProducer,
		invoke: func(p Producer[*trace], stages ...Stage[*trace]) error {
			m, err := Measure(p, stages...)
			if err != nil {
				return err
			}
			if m.ProducerMetrics[0].Items != uint(len(traceSpecs)) {
				return fmt.Errorf("%d items produced, expected %d", m.ProducerMetrics[0].Items, len(traceSpecs))
			}
			for _, sms := range m.StageMetrics {
				var items uint
				for _, sm := range sms {
					items += sm.Items
				}
				if items != uint(len(traceSpecs)) {
					return fmt.Errorf("stage %s processed %d items, expected %d", sms[0].StageName, items, len(traceSpecs))
				}
			}
			return nil
		},
	}, {
		description: "SequentialDo()",
		producer:    TraceProducer,
		invoke:      SequentialDo[*trace],
	}, {
		description: "Do() recycling",
		producer: func(specs ...string) Producer[*trace] {
			return RecyclingTraceProducer(nil, nil, specs...)
		},
		invoke: Do[*trace],
	}, {
		description: "SequentialDo() recycling",
		producer: func(specs ...string) Producer[*trace] {
			return RecyclingTraceProducer(nil, nil, specs...)
		},
		invoke: SequentialDo[*trace],
	}} {
		t.Run(test.description, func(t *testing.T) {
			var mu sync.Mutex
			got := []string{}
			err := test.invoke(test.producer(traceSpecs...), CountDistinct, Summarize, Collect(&mu, &got))
			if err != nil {
				t.Errorf("pipeline yielded %v, wanted nil", err)
			}
			// CountDistinct runs two instances, so completion order varies.
			slices.Sort(got)
			if diff := cmp.Diff(wantSummaries, got); diff != "" {
				t.Errorf("pipeline produced %v, diff (-want +got) %s", got, diff)
			}
		})
	}
}

func TestPipelineError(t *testing.T) {
	for _, test := range []struct {
		description string
		invoke      func(Producer[*trace], ...Stage[*trace]) error
	}{
		{"Do()", Do[*trace]},
		{"SequentialDo()", SequentialDo[*trace]},
	} {
		t.Run(test.description, func(t *testing.T) {
			gotPostError := 0
			err := test.invoke(
				TraceProducer(traceSpecs...),
				Summarize,
				Oops[*trace](2),
				NewStage(func(in *trace) (*trace, error) {
					gotPostError++
					return in, nil
				}))
			if err == nil {
				t.Errorf("pipeline yielded nil, wanted non-nil")
			}
			if gotPostError != 2 {
				t.Errorf("pipeline failed after %d items, wanted 2", gotPostError)
			}
		})
	}
}

func TestRecyclingPipelineReuse(t *testing.T) {
	created, recycled := 0, 0
	specs := append(append(append([]string{}, traceSpecs...), traceSpecs...), traceSpecs...)
	var mu sync.Mutex
	got := []string{}
	_, err := Measure(
		RecyclingTraceProducer(func() { created++ }, func() { recycled++ }, specs...),
		Summarize,
		Collect(&mu, &got),
	)
	if err != nil {
		t.Fatalf("Measure() yielded %v, wanted nil", err)
	}
	if created+recycled != len(specs) {
		t.Errorf("%d traces created or recycled, expected %d", created+recycled, len(specs))
	}
	if len(got) != len(specs) {
		t.Errorf("collected %d summaries, expected %d", len(got), len(specs))
	}
}

func TestSequentialRecyclingReusesOneItem(t *testing.T) {
	created, recycled := 0, 0
	err := SequentialDo(
		RecyclingTraceProducer(func() { created++ }, func() { recycled++ }, traceSpecs...),
		CountDistinct,
	)
	if err != nil {
		t.Fatalf("SequentialDo() yielded %v, wanted nil", err)
	}
	if created != 1 || recycled != len(traceSpecs)-1 {
		t.Errorf("created %d and recycled %d traces, wanted 1 and %d", created, recycled, len(traceSpecs)-1)
	}
}

func TestRecyclingPipelineError(t *testing.T) {
	var specs []string
	for i := 0; i < 10; i++ {
		specs = append(specs, traceSpecs...)
	}
	// After the last stage fails, the producer must keep allocating rather
	// than receive zero-valued items.
	err := Do(RecyclingTraceProducer(nil, nil, specs...), Summarize, Oops[*trace](1))
	if err == nil {
		t.Errorf("pipeline yielded nil, wanted non-nil")
	}
}

func TestProducerError(t *testing.T) {
	m, err := Measure(
		TraceProducer("a: 0x1", "b: 0x2", "c: nope", "d: 0x4"),
		Summarize,
	)
	if err == nil {
		t.Errorf("pipeline yielded nil error, wanted non-nil")
	}
	if got := m.ProducerMetrics[0].Items; got != 2 {
		t.Errorf("produced %d items, wanted 2", got)
	}
}

func TestInvalidOptions(t *testing.T) {
	for _, test := range []struct {
		description string
		invoke      func() error
	}{{
		description: "no stages",
		invoke: func() error {
			return Do(TraceProducer())
		},
	}, {
		description: "zero concurrency",
		invoke: func() error {
			return Do(TraceProducer(), NewStage(func(in *trace) (*trace, error) { return in, nil }, Concurrency(0)))
		},
	}, {
		description: "zero buffer",
		invoke: func() error {
			return Do(NewProducer(func(func(*trace)) error { return nil }, InputBufferSize(0)), Summarize)
		},
	}} {
		t.Run(test.description, func(t *testing.T) {
			if err := test.invoke(); err == nil {
				t.Errorf("pipeline yielded nil error, wanted non-nil")
			}
		})
	}
}

func TestMetricsReporting(t *testing.T) {
	var mu sync.Mutex
	got := []string{}
	m, err := Measure(TraceProducer(traceSpecs...), CountDistinct, Collect(&mu, &got))
	if err != nil {
		t.Fatalf("Measure() yielded %v, wanted nil", err)
	}
	str := m.String()
	for _, want := range []string{"Pipeline wall time", "trace producer (0)", "count distinct (1)", "collect (0)"} {
		if !strings.Contains(str, want) {
			t.Errorf("String() = %q, missing %q", str, want)
		}
	}
	core, logs := observer.New(zap.InfoLevel)
	m.Log(zap.New(core))
	// One entry for the pipeline, the producer, two count distinct
	// instances and the collector.
	if got := logs.Len(); got != 5 {
		t.Errorf("Log() wrote %d entries, wanted 5", got)
	}
	if got := logs.FilterField(zap.String("stage", "collect")).Len(); got != 1 {
		t.Errorf("Log() wrote %d entries for the collect stage, wanted 1", got)
	}
	var nilMetrics *Metrics
	if nilMetrics.String() != "" {
		t.Errorf("nil Metrics String() = %q, wanted empty", nilMetrics.String())
	}
}
