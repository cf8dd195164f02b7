package cluster

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// LoadSnapshotMMap maps the compressed snapshot read-only and decodes it
// straight from the mapping. Everything is copied out while decoding, so the
// mapping is released before returning.
func LoadSnapshotMMap(path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: empty file %s", ErrCorruptSnapshot, path)
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	defer data.Unmap()

	return DecodeResult(bytes.NewReader(data))
}
