package remotefile

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/textproto"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jlaffaye/ftp"
)

// ftpConn abstracts the FTP operations a session needs, so tests can inject
// a fake control connection.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	GetEntry(path string) (*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Append(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	MakeDir(path string) error
	RemoveDir(path string) error
	NoOp() error
	Quit() error
}

// serverConnAdapter adapts *ftp.ServerConn to ftpConn.
type serverConnAdapter struct {
	conn *ftp.ServerConn
}

var _ ftpConn = (*serverConnAdapter)(nil)

func (a *serverConnAdapter) List(path string) ([]*ftp.Entry, error)   { return a.conn.List(path) }
func (a *serverConnAdapter) GetEntry(path string) (*ftp.Entry, error) { return a.conn.GetEntry(path) }

func (a *serverConnAdapter) Retr(path string) (io.ReadCloser, error) {
	resp, err := a.conn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *serverConnAdapter) Stor(path string, r io.Reader) error       { return a.conn.Stor(path, r) }
func (a *serverConnAdapter) Append(path string, r io.Reader) error     { return a.conn.Append(path, r) }
func (a *serverConnAdapter) Rename(from, to string) error              { return a.conn.Rename(from, to) }
func (a *serverConnAdapter) Delete(path string) error                  { return a.conn.Delete(path) }
func (a *serverConnAdapter) MakeDir(path string) error                 { return a.conn.MakeDir(path) }
func (a *serverConnAdapter) RemoveDir(path string) error               { return a.conn.RemoveDir(path) }
func (a *serverConnAdapter) NoOp() error                               { return a.conn.NoOp() }
func (a *serverConnAdapter) Quit() error                               { return a.conn.Quit() }

// FTPSession adapts an FTP control connection to the Session contract.
// Listing semantics match the SFTP session: paths are normalized the same
// way and wildcard filtering happens client side, so callers see identical
// behavior across protocols.
type FTPSession struct {
	conn     ftpConn
	hostPort string

	// writeMu serializes Write and Append, matching the SFTP session.
	writeMu sync.Mutex

	closed atomic.Bool
}

var _ Session = (*FTPSession)(nil)

// NewFTPSession wraps an already logged-in FTP connection. hostPort is the
// remote endpoint as "host:port".
func NewFTPSession(conn *ftp.ServerConn, hostPort string) *FTPSession {
	return &FTPSession{
		conn:     &serverConnAdapter{conn: conn},
		hostPort: hostPort,
	}
}

// Remove deletes a remote file.
func (s *FTPSession) Remove(path string) error {
	return s.conn.Delete(path)
}

// List returns the entries the path resolves to, applying wildcard filtering
// when the final path component carries one.
func (s *FTPSession) List(path string) ([]Entry, error) {
	dir, file := splitListPath(path)

	if file != "" && !isPattern(file) {
		entry, err := s.stat(path)
		if err != nil {
			return nil, err
		}
		if entry.Type != ftp.EntryTypeFolder {
			return []Entry{entryFromFTP(file, path, entry)}, nil
		}
		dir = joinRemote(dir, file)
		file = ""
	}

	raw, err := s.conn.List(readDirPath(dir))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if file != "" && !matchName(file, e.Name) {
			continue
		}
		entries = append(entries, entryFromFTP(e.Name, joinRemote(dir, e.Name), e))
	}
	return entries, nil
}

// ListNames returns just the filenames the path resolves to.
func (s *FTPSession) ListNames(path string) ([]string, error) {
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
func (s *FTPSession) Read(source string, w io.Writer) error {
	resp, err := s.conn.Retr(source)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", source, err)
	}
	defer resp.Close()

	if _, err := io.Copy(w, resp); err != nil {
		return fmt.Errorf("failed to read remote file %s: %w", source, err)
	}
	return nil
}

// ReadRaw opens the remote file at source for streaming. The caller must
// close the returned stream to release the data connection.
func (s *FTPSession) ReadRaw(source string) (io.ReadCloser, error) {
	return s.conn.Retr(source)
}

// Write creates (or replaces) the remote file at destination with the
// contents of r.
func (s *FTPSession) Write(r io.Reader, destination string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.Stor(destination, r); err != nil {
		return fmt.Errorf("failed to write remote file %s: %w", destination, err)
	}
	return nil
}

// Append opens (or creates) the remote file at destination and appends the
// contents of r to it.
func (s *FTPSession) Append(r io.Reader, destination string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.Append(destination, r); err != nil {
		return fmt.Errorf("failed to append to remote file %s: %w", destination, err)
	}
	return nil
}

// Rename moves a remote file, replacing the destination if it exists.
func (s *FTPSession) Rename(from, to string) error {
	if err := s.conn.Rename(from, to); err == nil {
		return nil
	}
	// Some servers refuse RNTO onto an existing file, so clear the
	// destination and retry.
	if err := s.conn.Delete(to); err != nil && !isNotFoundReply(err) {
		return fmt.Errorf("failed to replace %s: %w", to, err)
	}
	return s.conn.Rename(from, to)
}

// Mkdir creates a remote directory.
func (s *FTPSession) Mkdir(dir string) error {
	return s.conn.MakeDir(dir)
}

// Rmdir removes an empty remote directory.
func (s *FTPSession) Rmdir(dir string) error {
	return s.conn.RemoveDir(dir)
}

// Exists reports whether a remote path exists.
func (s *FTPSession) Exists(path string) (bool, error) {
	_, err := s.stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// IsOpen reports whether the session has been closed.
func (s *FTPSession) IsOpen() bool {
	return !s.closed.Load()
}

// Test probes the control connection with a NOOP round-trip.
func (s *FTPSession) Test() bool {
	if !s.IsOpen() {
		return false
	}
	return s.conn.NoOp() == nil
}

// HostPort returns the remote endpoint as "host:port".
func (s *FTPSession) HostPort() string {
	return s.hostPort
}

// Close sends QUIT and tears down the control connection.
func (s *FTPSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.conn.Quit(); err != nil {
		return fmt.Errorf("failed to close FTP connection: %w", err)
	}
	return nil
}

// stat resolves a single path to its directory entry. It prefers MLST and
// falls back to scanning the parent listing on servers without it. A missing
// path is reported as fs.ErrNotExist.
func (s *FTPSession) stat(p string) (*ftp.Entry, error) {
	entry, err := s.conn.GetEntry(p)
	if err == nil {
		return entry, nil
	}
	if isNotFoundReply(err) {
		return nil, fs.ErrNotExist
	}

	dir, file := splitListPath(p)
	if file == "" {
		return nil, err
	}
	entries, listErr := s.conn.List(readDirPath(dir))
	if listErr != nil {
		return nil, listErr
	}
	for _, e := range entries {
		if e.Name == file {
			return e, nil
		}
	}
	return nil, fs.ErrNotExist
}

// isNotFoundReply reports whether an FTP reply means "no such file".
func isNotFoundReply(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code == ftp.StatusFileUnavailable
	}
	return errors.Is(err, fs.ErrNotExist)
}

func entryFromFTP(name, fullPath string, e *ftp.Entry) Entry {
	var mode fs.FileMode
	switch e.Type {
	case ftp.EntryTypeFolder:
		mode = fs.ModeDir
	case ftp.EntryTypeLink:
		mode = fs.ModeSymlink
	}
	return Entry{
		Name:    name,
		Path:    fullPath,
		Size:    int64(e.Size),
		Mode:    mode,
		ModTime: e.Time,
	}
}

// FTPSessionFactory dials FTP sessions for a fixed endpoint configuration.
type FTPSessionFactory struct {
	config FTPConfig
}

var _ SessionFactory = (*FTPSessionFactory)(nil)

// NewFTPSessionFactory creates a factory for the given configuration.
func NewFTPSessionFactory(config FTPConfig) *FTPSessionFactory {
	config = config.WithDefaults()
	if !config.ExplicitTLS && config.Password != "" {
		config.logger().Printf("[WARN] FTP credentials for %s:%d will be sent in cleartext - consider ExplicitTLS.", config.Host, config.Port)
	}
	return &FTPSessionFactory{config: config}
}

// Dial connects and logs in, tearing the control connection down if the
// login fails.
func (f *FTPSessionFactory) Dial(ctx context.Context) (Session, error) {
	config := f.config
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(config.Timeout),
	}
	if config.ExplicitTLS {
		tlsConfig := config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: config.Host}
		}
		opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
	}
	if config.DisableEPSV {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := conn.Login(config.User, config.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("failed to log in to %s: %w", addr, err)
	}

	return NewFTPSession(conn, addr), nil
}
