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

// ImageTrace is one thread's instructions that fall inside an image.
type ImageTrace struct {
	Image  Region
	Thread uint32
	PCs    []uint64
}

// PCsForImage returns, for each thread in ascending order, the logged pcs
// falling inside the image named name, in execution order.  Threads that never
// executed the image are omitted.
func (l *Log) PCsForImage(name string) ([]ImageTrace, error) {
	image, err := l.Image(name)
	if err != nil {
		return nil, err
	}
	var ret []ImageTrace
	for _, tid := range l.Threads() {
		var pcs []uint64
		for _, pc := range l.threads[tid] {
			if image.Contains(pc) {
				pcs = append(pcs, pc)
			}
		}
		if len(pcs) == 0 {
			continue
		}
		ret = append(ret, ImageTrace{Image: image, Thread: tid, PCs: pcs})
	}
	return ret, nil
}
