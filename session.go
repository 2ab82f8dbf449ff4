package remotefile

import (
	"context"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

// Entry describes a remote directory entry. All attribute data comes from
// the underlying protocol library; nothing is recomputed locally.
type Entry struct {
	// Name is the bare filename of the entry.
	Name string

	// Path is the full remote path of the entry.
	Path string

	// Size is the file size in bytes.
	Size int64

	// Mode holds the file type and permission bits.
	Mode fs.FileMode

	// ModTime is the last modification time reported by the server.
	ModTime time.Time
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Mode.IsDir()
}

// Session is a single connected conversation with a remote file server.
// Implementations delegate all protocol work to an underlying client library
// and only translate between that library and this contract.
//
// A Session is not safe for arbitrary concurrent use. Write and Append are
// mutually exclusive with each other on the same session; everything else is
// the caller's responsibility. Short-lived usage through a Template or
// SessionPool is the intended pattern.
type Session interface {
	// Remove deletes a remote file.
	Remove(path string) error

	// List returns the entries the path resolves to. The path may name a
	// directory, a single file, or carry a shell-style wildcard in its final
	// component (for example "outbound/*.csv"), in which case only matching
	// entries of the parent directory are returned.
	List(path string) ([]Entry, error)

	// ListNames returns just the filenames the path resolves to, with the
	// same path and wildcard handling as List.
	ListNames(path string) ([]string, error)

	// Read streams the remote file at source into w.
	Read(source string, w io.Writer) error

	// ReadRaw opens the remote file at source for streaming. The caller must
	// close the returned stream to release the underlying transfer.
	ReadRaw(source string) (io.ReadCloser, error)

	// Write creates (or truncates) the remote file at destination and copies
	// r into it.
	Write(r io.Reader, destination string) error

	// Append opens (or creates) the remote file at destination and appends
	// the contents of r to it.
	Append(r io.Reader, destination string) error

	// Rename moves a remote file, replacing the destination if it exists.
	Rename(from, to string) error

	// Mkdir creates a remote directory.
	Mkdir(dir string) error

	// Rmdir removes an empty remote directory.
	Rmdir(dir string) error

	// Exists reports whether a remote path exists. A "no such file" answer
	// from the server is not an error; any other failure is.
	Exists(path string) (bool, error)

	// IsOpen reports whether the session still has a live connection.
	IsOpen() bool

	// Test probes the connection with a cheap protocol round-trip and
	// reports whether the session is usable.
	Test() bool

	// HostPort returns the remote endpoint as "host:port".
	HostPort() string

	// Close tears down the session and its underlying connections.
	Close() error
}

// SessionFactory creates connected sessions. Implementations apply their
// configured connect timeout and tear down any partially established state
// when dialing fails.
type SessionFactory interface {
	Dial(ctx context.Context) (Session, error)
}

// splitListPath normalizes a listing path and splits it into directory and
// filename components. Leading and trailing separators are trimmed first; the
// split happens at the last separator. A path without separators is treated
// as a filename at the root, so a bare wildcard still filters the root
// listing. An empty filename means the path names a directory as a whole.
func splitListPath(p string) (dir, file string) {
	trimmed := strings.Trim(p, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return "", trimmed
}

// isPattern reports whether a filename component carries a glob wildcard.
func isPattern(file string) bool {
	return strings.Contains(file, "*")
}

// matchName applies shell-style pattern matching to a bare filename.
// Malformed patterns match nothing.
func matchName(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// joinRemote joins remote path components with forward slashes, ignoring
// empty parts.
func joinRemote(parts ...string) string {
	clean := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			clean = append(clean, p)
		}
	}
	return path.Join(clean...)
}
