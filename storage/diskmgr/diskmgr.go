// Package diskmgr owns raw page I/O keyed by (file, page_no) and allocates
// new page numbers per file — spec §2 component 1, the Disk Manager.
package diskmgr

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"relcore/relerr"
	"relcore/storage/page"
)

// File wraps one open table or index file: its OS handle plus the next page
// number to hand out on allocation.
type File struct {
	ID       uint32
	Path     string
	handle   *os.File
	nextPage int32
	mu       sync.Mutex
}

// Manager owns every open File, indexed by the caller-assigned FileID
// (assigned by the catalog collaborator — the disk manager never invents
// file identifiers itself, mirroring the teacher's OpenFileWithID contract).
type Manager struct {
	mu    sync.RWMutex
	files map[uint32]*File
}

func NewManager() *Manager {
	return &Manager{files: make(map[uint32]*File)}
}

// Open opens or creates the file at path under fileID, taking an advisory
// exclusive OS lock (unix.Flock) so a second Manager cannot open the same
// file for read-write concurrently — a correctness guard against two engine
// instances mutating one table file, not a distributed lock.
func (m *Manager) Open(fileID uint32, path string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[fileID]; ok {
		return f, nil
	}

	handle, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(relerr.ErrUnixError, "open %s: %v", path, err)
	}
	if err := unix.Flock(int(handle.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		handle.Close()
		return nil, errors.Wrapf(relerr.ErrUnixError, "flock %s: %v", path, err)
	}

	stat, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, errors.Wrapf(relerr.ErrUnixError, "stat %s: %v", path, err)
	}
	nextPage := int32(stat.Size() / page.Size)

	f := &File{ID: fileID, Path: path, handle: handle, nextPage: nextPage}
	m.files[fileID] = f
	return f, nil
}

// FileIDs returns every currently open file's ID, in no particular order —
// used by the engine to fan checkpoint fsyncs out across files concurrently.
func (m *Manager) FileIDs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint32, 0, len(m.files))
	for id := range m.files {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) Get(fileID uint32) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, errors.Wrapf(relerr.ErrPageNotExist, "file %d not open", fileID)
	}
	return f, nil
}

// Close flushes and releases fileID's OS handle.
func (m *Manager) Close(fileID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil
	}
	delete(m.files, fileID)
	if err := f.handle.Sync(); err != nil {
		return errors.Wrap(relerr.ErrUnixError, err.Error())
	}
	unix.Flock(int(f.handle.Fd()), unix.LOCK_UN)
	return f.handle.Close()
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.files))
	for id := range m.files {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	var firstErr error
	for _, id := range ids {
		if err := m.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadPage reads pageNo of f into a fresh frame.
func (f *File) ReadPage(pageNo int32) (*page.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pg := page.New(page.ID{FileID: f.ID, PageNo: pageNo})
	off := int64(pageNo) * page.Size
	n, err := f.handle.ReadAt(pg.Data, off)
	if err != nil && n == 0 {
		return nil, errors.Wrapf(relerr.ErrPageNotExist, "read (%d,%d): %v", f.ID, pageNo, err)
	}
	return pg, nil
}

// WritePage writes pg back to its offset in f.
func (f *File) WritePage(pg *page.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	off := int64(pg.ID.PageNo) * page.Size
	if _, err := f.handle.WriteAt(pg.Data, off); err != nil {
		return errors.Wrapf(relerr.ErrUnixError, "write (%d,%d): %v", pg.ID.FileID, pg.ID.PageNo, err)
	}
	if pg.ID.PageNo >= f.nextPage {
		f.nextPage = pg.ID.PageNo + 1
	}
	return nil
}

// AllocatePage reserves and returns the next page number in f, per spec §2:
// "allocates new page numbers per file". Does not write to disk — the
// caller (buffer pool) is responsible for flushing the zero-filled frame.
func (f *File) AllocatePage() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.nextPage
	f.nextPage++
	return n
}

// NumPages returns the current page count (next page number to allocate).
func (f *File) NumPages() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextPage
}

// Sync fsyncs the underlying OS file.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.handle.Sync(); err != nil {
		return errors.Wrap(relerr.ErrUnixError, err.Error())
	}
	return nil
}
