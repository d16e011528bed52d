//go:build !darwin && !linux

package packfile

import (
	"errors"
	"os"
)

// mmapFile has no portable implementation outside unix.Mmap's platforms;
// returning an error here is what drives OpenFileReaderAt's fallback to
// the read/seek path.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	return nil, errors.New("mmap: unsupported platform")
}

func munmapFile(data []byte) error { return nil }
