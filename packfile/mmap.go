package packfile

import "os"

// OpenFileReaderAt wraps f for pack-file reads, preferring a
// memory-mapped ReaderAt and falling back to plain read/seek access if
// the mapping cannot be established, per spec.md §4.1's "I/O modes":
// the pack may be memory-mapped or accessed by read/seek, both paths
// must produce identical output, and mmap failure transparently falls
// back to the read path. The returned func unmaps the region (a no-op
// for the fallback path); f itself stays owned by the caller.
//
// Grounded on the teacher's storage/filesystem/mmap package
// (mmapFile's fd-backed unix.Mmap, cleanup-on-failure shape); see
// mmap_unix.go/mmap_unsupported.go for the per-platform half this calls
// into.
func OpenFileReaderAt(f *os.File) (ReaderAt, func() error, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := fi.Size()

	if data, err := mmapFile(f, size); err == nil {
		return sliceReaderAt{data}, func() error { return munmapFile(data) }, nil
	}
	return seekReaderAt{f: f, size: size}, func() error { return nil }, nil
}

// seekReaderAt is the read/seek fallback ReaderAt over a plain *os.File,
// used whenever mmapFile fails (unsupported platform, or an mmap(2)
// failure such as running out of address space).
type seekReaderAt struct {
	f    *os.File
	size int64
}

func (r seekReaderAt) ReadAt(p []byte, off int64) (int, error) { return r.f.ReadAt(p, off) }

func (r seekReaderAt) Size() int64 { return r.size }
