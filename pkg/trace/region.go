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
	"path"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrBadMagic is returned when a trace file does not start with the
	// expected magic bytes.
	ErrBadMagic = errors.New("bad magic")
	// ErrImageNotFound is returned when no region maps the requested image.
	ErrImageNotFound = errors.New("image not found")
	// ErrAmbiguousImage is returned when several regions share the
	// requested image name.
	ErrAmbiguousImage = errors.New("ambiguous image")
)

// Region is an executable mapping in the traced process: a loaded image or a
// JIT code region.
type Region struct {
	Base  uint64
	Size  uint64
	Slide uint64
	Path  string
	JIT   bool
}

// Name returns the final element of the region's path, e.g. "libfoo.dylib".
func (r Region) Name() string {
	if r.Path == "" {
		return ""
	}
	return path.Base(r.Path)
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

func (r Region) String() string {
	kind := "image"
	if r.JIT {
		kind = "jit"
	}
	return fmt.Sprintf("%s %s [%#x, %#x) slide %#x", kind, r.Name(), r.Base, r.End(), r.Slide)
}

// Regions returns the log's regions ordered by base address.  The caller must
// not modify the returned slice.
func (l *Log) Regions() []Region {
	return l.regions
}

// AddRegion records a region.  Regions are kept ordered by base address.
func (l *Log) AddRegion(r Region) {
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].Base > r.Base
	})
	l.regions = append(l.regions, Region{})
	copy(l.regions[i+1:], l.regions[i:])
	l.regions[i] = r
}

// Lookup returns the region containing addr.  When regions overlap, the one
// with the highest base wins.
func (l *Log) Lookup(addr uint64) (Region, bool) {
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].Base > addr
	})
	for i--; i >= 0; i-- {
		if l.regions[i].Contains(addr) {
			return l.regions[i], true
		}
	}
	return Region{}, false
}

// Image returns the single region whose Name is name.
func (l *Log) Image(name string) (Region, error) {
	var (
		found Region
		n     int
	)
	for _, r := range l.regions {
		if r.Name() == name {
			found = r
			n++
		}
	}
	switch n {
	case 0:
		return Region{}, errors.Wrapf(ErrImageNotFound, "%q", name)
	case 1:
		return found, nil
	default:
		return Region{}, errors.Wrapf(ErrAmbiguousImage, "%q maps %d regions", name, n)
	}
}
