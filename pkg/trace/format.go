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
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// A trace directory holds one meta file describing the loaded images and one
// file per traced thread.  Every file is a single zstd stream; integers are
// little-endian.
//
//	meta.bin:         metaHeader, then NumRegions × (regionRecord, path)
//	thread-<tid>.bin: threadHeader, then NumInst × uint64 pc
const (
	metaFileName     = "meta.bin"
	threadFilePrefix = "thread-"
	threadFileSuffix = ".bin"
)

var (
	metaMagic   = [8]byte{'F', 'L', 'M', 'E', 'T', 'A', '0', '1'}
	threadMagic = [8]byte{'F', 'L', 'T', 'H', 'R', 'D', '0', '1'}
)

// maxPathLen bounds region paths read from disk.
const maxPathLen = 1 << 16

// pcChunk is the number of pcs read or written per buffer.
const pcChunk = 4096

type metaHeader struct {
	Magic      [8]byte
	NumRegions uint64
}

type regionRecord struct {
	Base, Size, Slide uint64
	IsJIT             uint8
	PathLen           uint32
}

type threadHeader struct {
	Magic    [8]byte
	ThreadID uint32
	NumInst  uint64
}

// writeFile creates path and passes fn a buffered writer feeding a zstd
// encoder.
func writeFile(path string, level zstd.EncoderLevel, fn func(w *bufio.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing %s", path)
		}
	}()
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(level))
	if err != nil {
		return errors.Wrapf(err, "compressing %s", path)
	}
	w := bufio.NewWriter(enc)
	if err := fn(w); err != nil {
		enc.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := w.Flush(); err != nil {
		enc.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(enc.Close(), "compressing %s", path)
}

// readFile opens path and passes fn a buffered reader over its decompressed
// contents.
func readFile(path string, fn func(r *bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "decompressing %s", path)
	}
	defer dec.Close()
	return errors.Wrapf(fn(bufio.NewReader(dec)), "reading %s", path)
}

func writeMeta(w io.Writer, regions []Region) error {
	if err := binary.Write(w, binary.LittleEndian, metaHeader{
		Magic:      metaMagic,
		NumRegions: uint64(len(regions)),
	}); err != nil {
		return err
	}
	for _, r := range regions {
		rec := regionRecord{
			Base:    r.Base,
			Size:    r.Size,
			Slide:   r.Slide,
			PathLen: uint32(len(r.Path)),
		}
		if r.JIT {
			rec.IsJIT = 1
		}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return err
		}
		if _, err := io.WriteString(w, r.Path); err != nil {
			return err
		}
	}
	return nil
}

func readMeta(r io.Reader) ([]Region, error) {
	var hdr metaHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "meta header")
	}
	if hdr.Magic != metaMagic {
		return nil, errors.Wrapf(ErrBadMagic, "meta header %q", hdr.Magic[:])
	}
	var regions []Region
	for i := uint64(0); i < hdr.NumRegions; i++ {
		var rec regionRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, errors.Wrapf(err, "region %d", i)
		}
		if rec.PathLen > maxPathLen {
			return nil, errors.Errorf("region %d: path of %d bytes", i, rec.PathLen)
		}
		path := make([]byte, rec.PathLen)
		if _, err := io.ReadFull(r, path); err != nil {
			return nil, errors.Wrapf(err, "region %d path", i)
		}
		regions = append(regions, Region{
			Base:  rec.Base,
			Size:  rec.Size,
			Slide: rec.Slide,
			Path:  string(path),
			JIT:   rec.IsJIT != 0,
		})
	}
	return regions, nil
}

func writeThread(w io.Writer, tid uint32, pcs []uint64) error {
	if err := binary.Write(w, binary.LittleEndian, threadHeader{
		Magic:    threadMagic,
		ThreadID: tid,
		NumInst:  uint64(len(pcs)),
	}); err != nil {
		return err
	}
	buf := make([]byte, 0, 8*pcChunk)
	for len(pcs) > 0 {
		n := min(len(pcs), pcChunk)
		buf = buf[:0]
		for _, pc := range pcs[:n] {
			buf = binary.LittleEndian.AppendUint64(buf, pc)
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		pcs = pcs[n:]
	}
	return nil
}

func readThread(r io.Reader) (uint32, []uint64, error) {
	var hdr threadHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, nil, errors.Wrap(err, "thread header")
	}
	if hdr.Magic != threadMagic {
		return 0, nil, errors.Wrapf(ErrBadMagic, "thread header %q", hdr.Magic[:])
	}
	// NumInst is not trusted for the allocation: the slice grows as
	// records actually arrive.
	pcs := make([]uint64, 0, min(hdr.NumInst, pcChunk))
	buf := make([]byte, 8*pcChunk)
	for remaining := hdr.NumInst; remaining > 0; {
		n := min(remaining, pcChunk)
		if _, err := io.ReadFull(r, buf[:8*n]); err != nil {
			return 0, nil, errors.Wrapf(err, "thread %d: pc %d of %d", hdr.ThreadID, hdr.NumInst-remaining, hdr.NumInst)
		}
		for i := uint64(0); i < n; i++ {
			pcs = append(pcs, binary.LittleEndian.Uint64(buf[8*i:]))
		}
		remaining -= n
	}
	return hdr.ThreadID, pcs, nil
}
