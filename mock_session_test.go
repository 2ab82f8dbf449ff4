package remotefile

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"net/textproto"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// mockClean normalizes a path the way the mock stores keys: no leading or
// trailing slashes, "." for the root.
func mockClean(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

// MockSFTPFileData holds file content and metadata for the mock SFTP client.
type MockSFTPFileData struct {
	content []byte
	mode    os.FileMode
	modTime time.Time
}

// MockSFTPClient implements SFTPClientInterface for testing. Paths are
// normalized so absolute and relative spellings address the same entry.
type MockSFTPClient struct {
	mu     sync.Mutex
	files  map[string]*MockSFTPFileData
	dirs   map[string]bool
	errors map[string]error
	ops    []string
	closed bool

	fileCloseErr   error
	openWriters    int
	maxOpenWriters int
}

// NewMockSFTPClient creates a new mock SFTP client.
func NewMockSFTPClient() *MockSFTPClient {
	return &MockSFTPClient{
		files:  make(map[string]*MockSFTPFileData),
		dirs:   make(map[string]bool),
		errors: make(map[string]error),
	}
}

// Ensure MockSFTPClient implements SFTPClientInterface.
var _ SFTPClientInterface = (*MockSFTPClient)(nil)

// SetError sets an error to be returned for a specific method.
func (m *MockSFTPClient) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// SetFileCloseError makes every remote file Close report err.
func (m *MockSFTPClient) SetFileCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileCloseErr = err
}

// SetFile sets a file in the mock SFTP client.
func (m *MockSFTPClient) SetFile(p string, content []byte, mode os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[mockClean(p)] = &MockSFTPFileData{content: content, mode: mode, modTime: time.Now()}
}

// SetModTime overrides the modification time of an existing file.
func (m *MockSFTPClient) SetModTime(p string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.files[mockClean(p)]; ok {
		data.modTime = t
	}
}

// SetDir registers a directory in the mock SFTP client.
func (m *MockSFTPClient) SetDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[mockClean(p)] = true
}

// Content returns the current content of a file and whether it exists.
func (m *MockSFTPClient) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[mockClean(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data.content...), true
}

// Ops returns the mutating calls the client has seen, in order.
func (m *MockSFTPClient) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// MaxOpenWriters reports the largest number of concurrently open write
// streams observed.
func (m *MockSFTPClient) MaxOpenWriters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpenWriters
}

func (m *MockSFTPClient) record(format string, args ...any) {
	m.ops = append(m.ops, fmt.Sprintf(format, args...))
}

func (m *MockSFTPClient) Lstat(p string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["Lstat"]; err != nil {
		return nil, err
	}

	key := mockClean(p)
	if key == "." || m.dirs[key] {
		return &mockFileInfo{name: path.Base(key), mode: os.ModeDir | 0o755, isDir: true}, nil
	}
	data, ok := m.files[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mockFileInfo{
		name:    path.Base(key),
		size:    int64(len(data.content)),
		mode:    data.mode,
		modTime: data.modTime,
	}, nil
}

func (m *MockSFTPClient) ReadDir(p string) ([]os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["ReadDir"]; err != nil {
		return nil, err
	}

	key := mockClean(p)
	var infos []os.FileInfo
	for name, data := range m.files {
		if path.Dir(name) != key {
			continue
		}
		infos = append(infos, &mockFileInfo{
			name:    path.Base(name),
			size:    int64(len(data.content)),
			mode:    data.mode,
			modTime: data.modTime,
		})
	}
	for name := range m.dirs {
		if path.Dir(name) != key {
			continue
		}
		infos = append(infos, &mockFileInfo{name: path.Base(name), mode: os.ModeDir | 0o755, isDir: true})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (m *MockSFTPClient) Open(p string) (SFTPFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["Open"]; err != nil {
		return nil, err
	}

	data, ok := m.files[mockClean(p)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &MockSFTPFile{content: append([]byte(nil), data.content...)}, nil
}

func (m *MockSFTPClient) OpenFile(p string, flags int) (SFTPFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["OpenFile"]; err != nil {
		return nil, err
	}

	key := mockClean(p)
	m.record("OpenFile %s append=%v", key, flags&os.O_APPEND != 0)

	m.openWriters++
	if m.openWriters > m.maxOpenWriters {
		m.maxOpenWriters = m.openWriters
	}
	return &MockSFTPFile{
		client:     m,
		path:       key,
		appendMode: flags&os.O_APPEND != 0,
		closeErr:   m.fileCloseErr,
	}, nil
}

func (m *MockSFTPClient) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["Remove"]; err != nil {
		return err
	}

	key := mockClean(p)
	m.record("Remove %s", key)
	if _, ok := m.files[key]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, key)
	return nil
}

// Rename refuses to overwrite an existing destination, matching servers
// without the posix-rename extension.
func (m *MockSFTPClient) Rename(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["Rename"]; err != nil {
		return err
	}

	fromKey, toKey := mockClean(from), mockClean(to)
	m.record("Rename %s %s", fromKey, toKey)
	data, ok := m.files[fromKey]
	if !ok {
		return os.ErrNotExist
	}
	if _, exists := m.files[toKey]; exists {
		return fs.ErrExist
	}
	m.files[toKey] = data
	delete(m.files, fromKey)
	return nil
}

func (m *MockSFTPClient) PosixRename(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["PosixRename"]; err != nil {
		return err
	}

	fromKey, toKey := mockClean(from), mockClean(to)
	m.record("PosixRename %s %s", fromKey, toKey)
	data, ok := m.files[fromKey]
	if !ok {
		return os.ErrNotExist
	}
	m.files[toKey] = data
	delete(m.files, fromKey)
	return nil
}

func (m *MockSFTPClient) Mkdir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["Mkdir"]; err != nil {
		return err
	}

	key := mockClean(p)
	m.record("Mkdir %s", key)
	m.dirs[key] = true
	return nil
}

func (m *MockSFTPClient) RemoveDirectory(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["RemoveDirectory"]; err != nil {
		return err
	}

	key := mockClean(p)
	m.record("RemoveDirectory %s", key)
	if !m.dirs[key] {
		return os.ErrNotExist
	}
	delete(m.dirs, key)
	return nil
}

func (m *MockSFTPClient) Getwd() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["Getwd"]; err != nil {
		return "", err
	}
	return "/", nil
}

func (m *MockSFTPClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["Close"]; err != nil {
		return err
	}
	m.closed = true
	return nil
}

// MockSFTPFile implements SFTPFile for testing. Written content is committed
// to the owning client on Close.
type MockSFTPFile struct {
	client     *MockSFTPClient
	path       string
	appendMode bool
	closeErr   error

	content    []byte
	written    []byte
	readOffset int
	closed     bool
}

func (f *MockSFTPFile) Read(p []byte) (n int, err error) {
	if f.readOffset >= len(f.content) {
		return 0, io.EOF
	}
	n = copy(p, f.content[f.readOffset:])
	f.readOffset += n
	return n, nil
}

func (f *MockSFTPFile) Write(p []byte) (n int, err error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *MockSFTPFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if f.client != nil {
		f.client.mu.Lock()
		data, ok := f.client.files[f.path]
		if ok && f.appendMode {
			data.content = append(data.content, f.written...)
			data.modTime = time.Now()
		} else {
			f.client.files[f.path] = &MockSFTPFileData{content: f.written, mode: 0o644, modTime: time.Now()}
		}
		f.client.openWriters--
		f.client.mu.Unlock()
	}
	return f.closeErr
}

// mockFTPConn implements ftpConn for testing an FTPSession without a server.
type mockFTPConn struct {
	mu    sync.Mutex
	files map[string][]byte
	times map[string]time.Time
	dirs  map[string]bool

	noMLST  bool // GetEntry answers 502 as if MLST were unsupported
	listErr error
	noopErr error
	quits   int
}

var _ ftpConn = (*mockFTPConn)(nil)

func newMockFTPConn() *mockFTPConn {
	return &mockFTPConn{
		files: make(map[string][]byte),
		times: make(map[string]time.Time),
		dirs:  make(map[string]bool),
	}
}

func (c *mockFTPConn) setFile(p string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := mockClean(p)
	c.files[key] = content
	c.times[key] = time.Now()
}

func (c *mockFTPConn) setDir(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs[mockClean(p)] = true
}

func (c *mockFTPConn) content(p string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.files[mockClean(p)]
	return content, ok
}

func notFoundReply(p string) error {
	return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: p + ": No such file or directory"}
}

func (c *mockFTPConn) entryLocked(key string) (*ftp.Entry, bool) {
	if key == "." || c.dirs[key] {
		return &ftp.Entry{Name: path.Base(key), Type: ftp.EntryTypeFolder}, true
	}
	if content, ok := c.files[key]; ok {
		return &ftp.Entry{
			Name: path.Base(key),
			Type: ftp.EntryTypeFile,
			Size: uint64(len(content)),
			Time: c.times[key],
		}, true
	}
	return nil, false
}

func (c *mockFTPConn) List(p string) ([]*ftp.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}

	key := mockClean(p)
	var entries []*ftp.Entry
	for name, content := range c.files {
		if path.Dir(name) != key {
			continue
		}
		entries = append(entries, &ftp.Entry{
			Name: path.Base(name),
			Type: ftp.EntryTypeFile,
			Size: uint64(len(content)),
			Time: c.times[name],
		})
	}
	for name := range c.dirs {
		if path.Dir(name) != key {
			continue
		}
		entries = append(entries, &ftp.Entry{Name: path.Base(name), Type: ftp.EntryTypeFolder})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (c *mockFTPConn) GetEntry(p string) (*ftp.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.noMLST {
		return nil, &textproto.Error{Code: ftp.StatusNotImplemented, Msg: "MLST not supported"}
	}
	entry, ok := c.entryLocked(mockClean(p))
	if !ok {
		return nil, notFoundReply(p)
	}
	return entry, nil
}

func (c *mockFTPConn) Retr(p string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	content, ok := c.files[mockClean(p)]
	if !ok {
		return nil, notFoundReply(p)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (c *mockFTPConn) Stor(p string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := mockClean(p)
	c.files[key] = content
	c.times[key] = time.Now()
	return nil
}

func (c *mockFTPConn) Append(p string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := mockClean(p)
	c.files[key] = append(c.files[key], content...)
	c.times[key] = time.Now()
	return nil
}

// Rename refuses RNTO onto an existing file, like stock vsftpd.
func (c *mockFTPConn) Rename(from, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fromKey, toKey := mockClean(from), mockClean(to)
	content, ok := c.files[fromKey]
	if !ok {
		return notFoundReply(from)
	}
	if _, exists := c.files[toKey]; exists {
		return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "Rename failed"}
	}
	c.files[toKey] = content
	c.times[toKey] = c.times[fromKey]
	delete(c.files, fromKey)
	delete(c.times, fromKey)
	return nil
}

func (c *mockFTPConn) Delete(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := mockClean(p)
	if _, ok := c.files[key]; !ok {
		return notFoundReply(p)
	}
	delete(c.files, key)
	delete(c.times, key)
	return nil
}

func (c *mockFTPConn) MakeDir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs[mockClean(p)] = true
	return nil
}

func (c *mockFTPConn) RemoveDir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := mockClean(p)
	if !c.dirs[key] {
		return notFoundReply(p)
	}
	delete(c.dirs, key)
	return nil
}

func (c *mockFTPConn) NoOp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noopErr
}

func (c *mockFTPConn) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quits++
	return nil
}
