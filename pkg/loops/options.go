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

// Package loops finds hot loops in execution traces.  Each traced thread's
// program counters within an image become a symbol sequence; the repeated
// substrings of that sequence, found through its suffix tree, are candidate
// loop bodies.
package loops

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options controls how sequences are analyzed and which loops are reported.
type Options struct {
	// MinLength is the shortest loop body, in symbols, that is reported.
	MinLength int
	// MinOccurrences is the fewest times a loop body must occur.
	MinOccurrences int
	// MaxLoops caps the loops reported per sequence.  Zero means no cap.
	MaxLoops int
	// Workers is the number of sequences analyzed concurrently.
	Workers int
	// BasicBlocks collapses runs of contiguous pcs into one symbol per
	// basic block before analysis.
	BasicBlocks bool
	// Naive builds trees by quadratic suffix insertion instead of Ukkonen's
	// algorithm.
	Naive bool
	// Measure records per-stage pipeline metrics.
	Measure bool
	// Logger receives progress and diagnostics.  Nil discards them.
	Logger *zap.Logger
}

// DefaultOptions returns the options used when nothing else is configured.
func DefaultOptions() Options {
	return Options{
		MinLength:      2,
		MinOccurrences: 2,
		MaxLoops:       20,
		Workers:        runtime.GOMAXPROCS(0),
	}
}

func (o Options) validate() error {
	switch {
	case o.MinLength < 1:
		return errors.Errorf("minimum loop length must be at least 1, got %d", o.MinLength)
	case o.MinOccurrences < 1:
		return errors.Errorf("minimum occurrences must be at least 1, got %d", o.MinOccurrences)
	case o.MaxLoops < 0:
		return errors.Errorf("maximum loops must not be negative, got %d", o.MaxLoops)
	case o.Workers < 1:
		return errors.Errorf("workers must be at least 1, got %d", o.Workers)
	}
	return nil
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
