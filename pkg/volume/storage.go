package volume

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"unsafe"

	"github.com/dustin/go-humanize"

	"obliquempr/internal/models"
	"obliquempr/pkg/interpolation"
)

// ErrScratchFile is returned when the file-backed fallback cannot be created.
var ErrScratchFile = errors.New("cannot create volume scratch file")

// scratchPattern names the memory-mapped scratch files.
const scratchPattern = "volume_data*.tmp"

// backing releases the memory behind a grid.
type backing interface {
	release() error
	fileBacked() bool
	path() string
}

type dense struct{}

func (dense) release() error  { return nil }
func (dense) fileBacked() bool { return false }
func (dense) path() string     { return "" }

type mapped struct {
	file *os.File
	data []byte
}

func (m *mapped) fileBacked() bool { return true }
func (m *mapped) path() string     { return m.file.Name() }

func (m *mapped) release() error {
	var errs []error
	if m.data != nil {
		errs = append(errs, unmap(m.data))
		m.data = nil
	}
	if m.file != nil {
		name := m.file.Name()
		errs = append(errs, m.file.Close())
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
		m.file = nil
	}
	return errors.Join(errs...)
}

// fallbackBudget caps dense volumes when the runtime has no memory limit.
const fallbackBudget = 4 << 30

// DefaultMaxInMemoryBytes is the dense allocation cap used when
// Options.MaxInMemoryBytes is 0: half of the runtime memory limit
// (GOMEMLIMIT) when one is set, else 4 GiB.
func DefaultMaxInMemoryBytes() int64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return limit / 2
	}
	return fallbackBudget
}

// allocator decides between dense and file-backed storage. A negative
// maxBytes disables the cap.
type allocator struct {
	scratchDir string
	maxBytes   int64
	logger     *slog.Logger
}

// newGrid allocates a zeroed grid of typ. The result is a
// *interpolation.Grid[T] for the Go type matching typ.
func (a allocator) newGrid(typ models.ElementType, sx, sy, sz int) (any, backing, error) {
	switch typ {
	case models.Uint8:
		return allocGrid[uint8](a, typ, sx, sy, sz)
	case models.Int8:
		return allocGrid[int8](a, typ, sx, sy, sz)
	case models.Uint16:
		return allocGrid[uint16](a, typ, sx, sy, sz)
	case models.Int16:
		return allocGrid[int16](a, typ, sx, sy, sz)
	case models.Uint32:
		return allocGrid[uint32](a, typ, sx, sy, sz)
	case models.Int32:
		return allocGrid[int32](a, typ, sx, sy, sz)
	case models.Float32:
		return allocGrid[float32](a, typ, sx, sy, sz)
	case models.Float64:
		return allocGrid[float64](a, typ, sx, sy, sz)
	}
	return nil, nil, fmt.Errorf("%w: %s", models.ErrUnsupportedType, typ)
}

func allocGrid[T models.Number](a allocator, typ models.ElementType, sx, sy, sz int) (any, backing, error) {
	n := sx * sy * sz
	size := int64(n) * int64(typ.Size())

	if a.maxBytes < 0 || size <= a.maxBytes {
		data, err := makeDense[T](n)
		if err != nil {
			a.logger.Debug("dense volume allocation failed, retrying after GC", "size", humanize.IBytes(uint64(size)), "error", err)
			runtime.GC()
			data, err = makeDense[T](n)
		}
		if err == nil {
			a.logger.Debug("volume allocated in memory", "type", typ, "size", humanize.IBytes(uint64(size)))
			g := interpolation.NewGrid(data, sx, sy, sz)
			return &g, dense{}, nil
		}
		a.logger.Warn("dense volume allocation failed, using scratch file", "size", humanize.IBytes(uint64(size)), "error", err)
	} else {
		a.logger.Info("volume exceeds memory budget, using scratch file",
			"size", humanize.IBytes(uint64(size)), "budget", humanize.IBytes(uint64(a.maxBytes)))
	}

	m, err := createScratch(a.scratchDir, size)
	if err != nil {
		return nil, nil, err
	}
	data := unsafe.Slice((*T)(unsafe.Pointer(&m.data[0])), n)
	a.logger.Info("volume mapped to scratch file", "path", m.path(), "size", humanize.IBytes(uint64(size)))
	g := interpolation.NewGrid(data, sx, sy, sz)
	return &g, m, nil
}

// makeDense converts an allocation panic into an error.
func makeDense[T models.Number](n int) (data []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("allocating %d elements: %v", n, r)
		}
	}()
	return make([]T, n), nil
}

// createScratch creates a file of exactly size bytes and maps it read/write.
func createScratch(dir string, size int64) (*mapped, error) {
	if size <= 0 || int64(int(size)) != size {
		return nil, fmt.Errorf("%w: invalid size %d", ErrScratchFile, size)
	}
	f, err := os.CreateTemp(dir, scratchPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScratchFile, err)
	}
	fail := func(err error) (*mapped, error) {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: %s: %w", ErrScratchFile, f.Name(), err)
	}
	if err := f.Truncate(size); err != nil {
		return fail(err)
	}
	data, err := mapFile(f, int(size))
	if err != nil {
		return fail(err)
	}
	return &mapped{file: f, data: data}, nil
}
