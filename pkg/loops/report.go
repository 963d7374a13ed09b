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
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

// previewSymbols is the number of body symbols shown per loop.
const previewSymbols = 4

// Report writes a table of each result's loops to w.
func Report(w io.Writer, results []Result, opts Options) error {
	for _, res := range results {
		if err := reportOne(w, res, opts); err != nil {
			return errors.Wrap(err, "writing report")
		}
	}
	return nil
}

func reportOne(w io.Writer, res Result, opts Options) error {
	header := fmt.Sprintf("%s thread %d: %s symbols", res.Job.Image, res.Job.Thread, humanize.Comma(int64(res.Length)))
	if res.Err != nil {
		_, err := fmt.Fprintf(w, "%s: %v\n", header, res.Err)
		return err
	}
	header += fmt.Sprintf(", %s tree nodes", humanize.Comma(int64(res.Nodes)))
	if opts.Measure {
		header += fmt.Sprintf(" (build %s, walk %s)", res.BuildTime, res.WalkTime)
	}
	if len(res.Loops) == 0 {
		_, err := fmt.Fprintf(w, "%s, no loops found\n", header)
		return err
	}
	if _, err := fmt.Fprintf(w, "%s, %s loops\n", header, humanize.Comma(int64(len(res.Loops)))); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Length", "Occurrences", "First offset", "Address", "Body"})
	for i, loop := range res.Loops {
		table.Append([]string{
			strconv.Itoa(i + 1),
			humanize.Comma(int64(loop.Length)),
			humanize.Comma(int64(loop.Occurrences)),
			humanize.Comma(int64(loop.Start)),
			fmt.Sprintf("%#x", uint64(loop.Symbols[0])),
			preview(loop, res.Job.Base),
		})
	}
	table.Render()
	return nil
}

// preview renders the start of a loop body as offsets into the image.
func preview(loop Loop, base uint64) string {
	n := min(len(loop.Symbols), previewSymbols)
	parts := make([]string, 0, n+1)
	for _, sym := range loop.Symbols[:n] {
		parts = append(parts, fmt.Sprintf("+%#x", uint64(sym)-base))
	}
	if len(loop.Symbols) > n {
		parts = append(parts, "...")
	}
	return strings.Join(parts, " ")
}
