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

// Package trace loads and writes execution traces: per-thread program-counter
// logs together with the executable regions mapped into the traced process.
package trace

import (
	"bufio"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Log is a recorded execution trace.
type Log struct {
	regions []Region
	threads map[uint32][]uint64
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{threads: map[uint32][]uint64{}}
}

// Add appends pc to thread tid's instruction log.
func (l *Log) Add(tid uint32, pc uint64) {
	l.threads[tid] = append(l.threads[tid], pc)
}

// SetPCs replaces thread tid's instruction log.
func (l *Log) SetPCs(tid uint32, pcs []uint64) {
	l.threads[tid] = pcs
}

// Threads returns the traced thread IDs in ascending order.
func (l *Log) Threads() []uint32 {
	ret := make([]uint32, 0, len(l.threads))
	for tid := range l.threads {
		ret = append(ret, tid)
	}
	slices.Sort(ret)
	return ret
}

// PCs returns thread tid's instruction log.  The caller must not modify it.
func (l *Log) PCs(tid uint32) []uint64 {
	return l.threads[tid]
}

// NumInst returns the number of instructions logged across all threads.
func (l *Log) NumInst() uint64 {
	var n uint64
	for _, pcs := range l.threads {
		n += uint64(len(pcs))
	}
	return n
}

func threadFileName(tid uint32) string {
	return threadFilePrefix + strconv.FormatUint(uint64(tid), 10) + threadFileSuffix
}

// Open reads the trace stored in dir.  Files other than the meta file and
// thread files are ignored.
func Open(dir string) (*Log, error) {
	l := NewLog()
	if err := readFile(filepath.Join(dir, metaFileName), func(r *bufio.Reader) error {
		regions, err := readMeta(r)
		if err != nil {
			return err
		}
		for _, region := range regions {
			l.AddRegion(region)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, threadFilePrefix) || !strings.HasSuffix(name, threadFileSuffix) {
			continue
		}
		if _, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, threadFilePrefix), threadFileSuffix), 10, 32); err != nil {
			continue
		}
		if err := readFile(filepath.Join(dir, name), func(r *bufio.Reader) error {
			tid, pcs, err := readThread(r)
			if err != nil {
				return err
			}
			if _, ok := l.threads[tid]; ok {
				return errors.Errorf("thread %d logged twice", tid)
			}
			l.threads[tid] = pcs
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// WriteOptionFn configures Write.
type WriteOptionFn func(*writeOptions)

type writeOptions struct {
	level zstd.EncoderLevel
}

// Level sets the zstd compression level of the written files.
func Level(level zstd.EncoderLevel) WriteOptionFn {
	return func(o *writeOptions) {
		o.level = level
	}
}

// Write stores the log in dir, creating dir if needed.
func (l *Log) Write(dir string, optFns ...WriteOptionFn) error {
	opts := &writeOptions{level: zstd.SpeedDefault}
	for _, optFn := range optFns {
		optFn(opts)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	if err := writeFile(filepath.Join(dir, metaFileName), opts.level, func(w *bufio.Writer) error {
		return writeMeta(w, l.regions)
	}); err != nil {
		return err
	}
	for _, tid := range l.Threads() {
		pcs := l.threads[tid]
		if err := writeFile(filepath.Join(dir, threadFileName(tid)), opts.level, func(w *bufio.Writer) error {
			return writeThread(w, tid, pcs)
		}); err != nil {
			return err
		}
	}
	return nil
}
