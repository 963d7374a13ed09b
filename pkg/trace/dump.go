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

package trace

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Dump writes a human-readable rendering of the log to w: its regions, then
// each thread's pcs annotated with the image they fall in.
func (l *Log) Dump(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf("%d regions\n", len(l.regions))
	for _, r := range l.regions {
		ew.printf("  %s (%s) %s\n", r, humanize.IBytes(r.Size), r.Path)
	}
	for _, tid := range l.Threads() {
		pcs := l.threads[tid]
		ew.printf("thread %d: %s instructions\n", tid, humanize.Comma(int64(len(pcs))))
		for i, pc := range pcs {
			name := "?"
			if r, ok := l.Lookup(pc); ok {
				name = fmt.Sprintf("%s+%#x", r.Name(), pc-r.Base)
			}
			ew.printf("  %8d %#x %s\n", i, pc, name)
		}
	}
	return errors.Wrap(ew.err, "dumping trace")
}

// errWriter remembers the first write error and drops later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
