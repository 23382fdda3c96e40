package broker

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aeriedb/aerie/internal/logger"
)

// LocalBackend serves broker operations from a directory on the local
// filesystem. Descriptors index a table of open *os.File.
type LocalBackend struct {
	root string

	mu     sync.Mutex
	nextFd uint32
	files  map[uint32]*os.File
}

// NewLocalBackend creates a backend rooted at dir, creating it if
// needed.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create broker root: %w", err)
	}
	return &LocalBackend{
		root:  abs,
		files: make(map[uint32]*os.File),
	}, nil
}

// resolve maps a broker path onto the root directory, refusing paths
// that would escape it.
func (b *LocalBackend) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(path, "/"))
	full := filepath.Join(b.root, clean)
	if full != b.root && !strings.HasPrefix(full, b.root+string(filepath.Separator)) {
		return "", ErrFileNotFound
	}
	return full, nil
}

func (b *LocalBackend) insert(f *os.File) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextFd++
	fd := b.nextFd
	b.files[fd] = f
	return fd
}

func (b *LocalBackend) lookup(fd uint32) (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fd]
	if !ok {
		return nil, ErrBadFd
	}
	return f, nil
}

func (b *LocalBackend) Open(path string) (uint32, error) {
	full, err := b.resolve(path)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrFileNotFound
	}
	if err != nil {
		return 0, err
	}
	fd := b.insert(f)
	logger.Debug("file opened", logger.KeyFileName, path, logger.KeyFd, fd)
	return fd, nil
}

func (b *LocalBackend) Create(path string, overwrite bool) (uint32, error) {
	full, err := b.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, err
	}

	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_RDWR | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return 0, ErrFileExists
	}
	if err != nil {
		return 0, err
	}
	fd := b.insert(f)
	logger.Debug("file created", logger.KeyFileName, path, logger.KeyFd, fd)
	return fd, nil
}

func (b *LocalBackend) Close(fd uint32) error {
	b.mu.Lock()
	f, ok := b.files[fd]
	delete(b.files, fd)
	b.mu.Unlock()

	if !ok {
		return ErrBadFd
	}
	logger.Debug("file closed", logger.KeyFd, fd)
	return f.Close()
}

func (b *LocalBackend) Read(fd uint32, amount uint32) (uint64, []byte, error) {
	f, err := b.lookup(fd)
	if err != nil {
		return 0, nil, err
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, nil, err
	}

	data := make([]byte, amount)
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, nil, err
	}
	return uint64(offset), data[:n], nil
}

func (b *LocalBackend) Write(fd uint32, data []byte) (uint64, error) {
	f, err := b.lookup(fd)
	if err != nil {
		return 0, err
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(data); err != nil {
		return 0, err
	}
	return uint64(offset), nil
}

func (b *LocalBackend) Append(fd uint32, data []byte) (uint64, error) {
	f, err := b.lookup(fd)
	if err != nil {
		return 0, err
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(data); err != nil {
		return 0, err
	}
	return uint64(offset), nil
}

func (b *LocalBackend) Seek(fd uint32, offset uint64) error {
	f, err := b.lookup(fd)
	if err != nil {
		return err
	}
	_, err = f.Seek(int64(offset), io.SeekStart)
	return err
}

func (b *LocalBackend) Remove(path string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrFileNotFound
	}
	return err
}

func (b *LocalBackend) Length(path string) (uint64, error) {
	full, err := b.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrFileNotFound
	}
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

func (b *LocalBackend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var first error
	for fd, f := range b.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.files, fd)
	}
	return first
}
