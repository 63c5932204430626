//go:build !unix

package volume

import (
	"errors"
	"os"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return nil, errors.New("memory-mapped volumes are not supported on this platform")
}

func unmap(b []byte) error {
	return nil
}
