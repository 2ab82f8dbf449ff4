package remotefile

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPClientInterface abstracts the SFTP operations a session needs.
// This allows for mocking in tests.
type SFTPClientInterface interface {
	Lstat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (SFTPFile, error)
	OpenFile(path string, flags int) (SFTPFile, error)
	Remove(path string) error
	Rename(oldname, newname string) error
	PosixRename(oldname, newname string) error
	Mkdir(path string) error
	RemoveDirectory(path string) error
	Getwd() (string, error)
	Close() error
}

// SFTPFile abstracts remote file streams for testing.
type SFTPFile interface {
	io.Reader
	io.Writer
	io.Closer
}

// SFTPClientWrapper wraps the real sftp.Client to implement SFTPClientInterface.
type SFTPClientWrapper struct {
	client *sftp.Client
}

var _ SFTPClientInterface = (*SFTPClientWrapper)(nil)

func (w *SFTPClientWrapper) Lstat(path string) (os.FileInfo, error)     { return w.client.Lstat(path) }
func (w *SFTPClientWrapper) ReadDir(path string) ([]os.FileInfo, error) { return w.client.ReadDir(path) }
func (w *SFTPClientWrapper) Open(path string) (SFTPFile, error)         { return w.client.Open(path) }
func (w *SFTPClientWrapper) OpenFile(path string, flags int) (SFTPFile, error) {
	return w.client.OpenFile(path, flags)
}
func (w *SFTPClientWrapper) Remove(path string) error                { return w.client.Remove(path) }
func (w *SFTPClientWrapper) Rename(oldname, newname string) error    { return w.client.Rename(oldname, newname) }
func (w *SFTPClientWrapper) PosixRename(oldname, newname string) error {
	return w.client.PosixRename(oldname, newname)
}
func (w *SFTPClientWrapper) Mkdir(path string) error           { return w.client.Mkdir(path) }
func (w *SFTPClientWrapper) RemoveDirectory(path string) error { return w.client.RemoveDirectory(path) }
func (w *SFTPClientWrapper) Getwd() (string, error)            { return w.client.Getwd() }
func (w *SFTPClientWrapper) Close() error                      { return w.client.Close() }

// SFTPSession adapts an SFTP client to the Session contract. All protocol
// work happens in the wrapped client; the session only forwards calls,
// normalizes listing paths, and applies wildcard filtering.
type SFTPSession struct {
	client   SFTPClientInterface
	raw      *sftp.Client // nil when a custom client implementation is injected
	hostPort string

	// writeMu serializes Write and Append so concurrent uploads through one
	// session cannot interleave their stream bytes.
	writeMu sync.Mutex

	closed atomic.Bool
	// generation invalidates the death watch of a replaced connection, so a
	// stale watcher cannot mark a redialed session closed.
	generation atomic.Uint64
	closers    []io.Closer // underlying transports, closed after the sftp channel
	redial     func() error
}

var _ Session = (*SFTPSession)(nil)

// NewSFTPSession wraps an already connected SFTP client. hostPort is the
// remote endpoint as "host:port".
func NewSFTPSession(client *sftp.Client, hostPort string) *SFTPSession {
	return &SFTPSession{
		client:   &SFTPClientWrapper{client: client},
		raw:      client,
		hostPort: hostPort,
	}
}

// NewSFTPSessionWithClient creates a session backed by a custom client
// implementation. This is primarily used for testing with mock SFTP clients.
func NewSFTPSessionWithClient(client SFTPClientInterface, hostPort string) *SFTPSession {
	return &SFTPSession{
		client:   client,
		hostPort: hostPort,
	}
}

// attach points the session at a freshly dialed client stack. The transports
// in closers are closed after the sftp channel, in order.
func (s *SFTPSession) attach(raw *sftp.Client, conn *ssh.Client, closers ...io.Closer) {
	s.client = &SFTPClientWrapper{client: raw}
	s.raw = raw
	s.closers = s.closers[:0]
	if conn != nil {
		s.closers = append(s.closers, conn)
	}
	for _, c := range closers {
		if c != nil {
			s.closers = append(s.closers, c)
		}
	}
	gen := s.generation.Add(1)
	s.closed.Store(false)
	if conn != nil {
		go func() {
			_ = conn.Wait()
			if s.generation.Load() == gen {
				s.closed.Store(true)
			}
		}()
	}
}

// Client returns the underlying sftp.Client, or nil if the session was built
// around a custom client implementation.
func (s *SFTPSession) Client() *sftp.Client {
	return s.raw
}

// Connect (re)establishes the underlying connection. It is a no-op when the
// session is already open. Only sessions built by a factory can reconnect.
func (s *SFTPSession) Connect() error {
	if s.IsOpen() {
		return nil
	}
	if s.redial == nil {
		return fmt.Errorf("session to %s cannot reconnect", s.hostPort)
	}
	if err := s.redial(); err != nil {
		return fmt.Errorf("failed to reconnect to %s: %w", s.hostPort, err)
	}
	return nil
}

// Remove deletes a remote file.
func (s *SFTPSession) Remove(path string) error {
	return s.client.Remove(path)
}

// List returns the entries the path resolves to, applying wildcard filtering
// when the final path component carries one.
func (s *SFTPSession) List(path string) ([]Entry, error) {
	dir, file := splitListPath(path)

	if file != "" && !isPattern(file) {
		fi, err := s.client.Lstat(path)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return []Entry{entryFromInfo(file, path, fi)}, nil
		}
		dir = joinRemote(dir, file)
		file = ""
	}

	infos, err := s.client.ReadDir(readDirPath(dir))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if file != "" && !matchName(file, fi.Name()) {
			continue
		}
		entries = append(entries, entryFromInfo(fi.Name(), joinRemote(dir, fi.Name()), fi))
	}
	return entries, nil
}

// ListNames returns just the filenames the path resolves to.
func (s *SFTPSession) ListNames(path string) ([]string, error) {
	entries, err := s.List(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Read streams the remote file at source into w.
func (s *SFTPSession) Read(source string, w io.Writer) error {
	f, err := s.client.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", source, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read remote file %s: %w", source, err)
	}
	return nil
}

// ReadRaw opens the remote file at source for streaming. The caller must
// close the returned stream.
func (s *SFTPSession) ReadRaw(source string) (io.ReadCloser, error) {
	f, err := s.client.Open(source)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Write creates (or truncates) the remote file at destination and copies r
// into it.
func (s *SFTPSession) Write(r io.Reader, destination string) error {
	return s.putStream(r, destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// Append opens (or creates) the remote file at destination and appends the
// contents of r to it.
func (s *SFTPSession) Append(r io.Reader, destination string) error {
	return s.putStream(r, destination, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

func (s *SFTPSession) putStream(r io.Reader, destination string, flags int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.client.OpenFile(destination, flags)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", destination, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write remote file %s: %w", destination, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s: %w", destination, err)
	}
	return nil
}

// Rename moves a remote file, replacing the destination if it exists.
func (s *SFTPSession) Rename(from, to string) error {
	if err := s.client.PosixRename(from, to); err == nil {
		return nil
	}
	// Servers without the posix-rename extension refuse to overwrite, so
	// clear the destination and retry with the classic rename.
	if err := s.client.Remove(to); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace %s: %w", to, err)
	}
	return s.client.Rename(from, to)
}

// Mkdir creates a remote directory.
func (s *SFTPSession) Mkdir(dir string) error {
	return s.client.Mkdir(dir)
}

// Rmdir removes an empty remote directory.
func (s *SFTPSession) Rmdir(dir string) error {
	return s.client.RemoveDirectory(dir)
}

// Exists reports whether a remote path exists.
func (s *SFTPSession) Exists(path string) (bool, error) {
	_, err := s.client.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to lstat %s: %w", path, err)
}

// IsOpen reports whether the session still has a live connection.
func (s *SFTPSession) IsOpen() bool {
	return !s.closed.Load()
}

// Test probes the connection with a working-directory lookup.
func (s *SFTPSession) Test() bool {
	if !s.IsOpen() {
		return false
	}
	_, err := s.client.Getwd()
	return err == nil
}

// HostPort returns the remote endpoint as "host:port".
func (s *SFTPSession) HostPort() string {
	return s.hostPort
}

// Close tears down the sftp channel and the transports beneath it.
func (s *SFTPSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs *multierror.Error
	if err := s.client.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close sftp channel: %w", err))
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	return errs.ErrorOrNil()
}

// readDirPath maps an empty directory component to the protocol root.
func readDirPath(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

func entryFromInfo(name, fullPath string, fi os.FileInfo) Entry {
	return Entry{
		Name:    name,
		Path:    fullPath,
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
	}
}
