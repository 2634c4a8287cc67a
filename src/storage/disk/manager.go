package disk

import (
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Manager reads and writes fixed-size pages of a single page file at
// offset page_id * PageSize. I/O failures are fatal at this layer, so
// neither ReadPage nor WritePage returns an error; the buffer pool
// relies on that contract.
type Manager struct {
	mu   sync.Mutex
	file afero.File
	log  *zap.Logger
}

func New(fs afero.Fs, path string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}

	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	return &Manager{
		file: file,
		log:  log,
	}, nil
}

// NewInMemory is a Manager over afero's memory filesystem; tests use
// it to avoid touching the real disk.
func NewInMemory(log *zap.Logger) *Manager {
	m, err := New(afero.NewMemMapFs(), "reldb.pages", log)
	assert.NoError(err, "in-memory page file")
	return m
}

func (m *Manager) ReadPage(pageID common.PageID, buf []byte) {
	assert.Assert(pageID >= 0, "read of invalid page id %d", pageID)
	assert.Assert(len(buf) == common.PageSize, "short page buffer: %d", len(buf))

	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(pageID) * common.PageSize
	n, err := m.file.ReadAt(buf, offset)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// The page was allocated but never flushed. Serve zeroes.
		clear(buf[n:])
		return
	}
	assert.NoError(err, "page file read")
}

func (m *Manager) WritePage(pageID common.PageID, buf []byte) {
	assert.Assert(pageID >= 0, "write of invalid page id %d", pageID)
	assert.Assert(len(buf) == common.PageSize, "short page buffer: %d", len(buf))

	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(pageID) * common.PageSize
	_, err := m.file.WriteAt(buf, offset)
	assert.NoError(err, "page file write")

	m.log.Debug("wrote page", zap.Int32("pageID", int32(pageID)))
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.file.Close()
}
