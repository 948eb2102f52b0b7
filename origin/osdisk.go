package origin

import "os"

// OSBackend implements Backend over the local filesystem using *os.File.
// It is the Backend used outside of tests; a memBackend in the engine
// package's tests stands in for it there.
type OSBackend struct{}

// Create creates path, truncating it if it already exists.
func (OSBackend) Create(path string, mode os.FileMode) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

// Open opens path with the given flags and mode.
func (OSBackend) Open(path string, flag int, mode os.FileMode) (File, error) {
	f, err := os.OpenFile(path, flag, mode)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

type osFile struct {
	f *os.File
}

func (o osFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o osFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o osFile) Fsync() error                             { return o.f.Sync() }
func (o osFile) Close() error                             { return o.f.Close() }

func (o osFile) Size() (int64, error) {
	info, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
