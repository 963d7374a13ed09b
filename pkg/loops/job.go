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
	"github.com/google/go-findloops/pkg/trace"
)

// Job is one symbol sequence to analyze: a thread's execution of an image.
type Job struct {
	Image  string
	Thread uint32
	// Base is the image's load address, used to render symbols as offsets
	// into the image.
	Base uint64
	// Symbols are the pcs, or basic block starts, in execution order.
	Symbols []uint64
}

// Jobs returns one job per thread of l that executed the image named image.
func Jobs(l *trace.Log, image string, opts Options) ([]Job, error) {
	traces, err := l.PCsForImage(image)
	if err != nil {
		return nil, err
	}
	ret := make([]Job, 0, len(traces))
	for _, it := range traces {
		syms := it.PCs
		if opts.BasicBlocks {
			syms = trace.BlockStarts(trace.BasicBlocks(syms))
		}
		ret = append(ret, Job{
			Image:   image,
			Thread:  it.Thread,
			Base:    it.Image.Base,
			Symbols: syms,
		})
	}
	return ret, nil
}
