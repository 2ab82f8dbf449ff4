package remotefile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// DefaultTemporarySuffix is appended to in-flight uploads until they are
// renamed into place.
const DefaultTemporarySuffix = ".writing"

// Template runs short-lived operations against a SessionFactory: each call
// dials a session, performs the work, and closes the session again. Pointing
// a Template at a SessionPool makes every call run on a pooled session.
//
// Uploads are staged under a temporary name and renamed into place once the
// stream is fully written, so downstream consumers never observe partial
// files under their final name.
type Template struct {
	factory       SessionFactory
	tempSuffix    string
	useTempName   bool
	autoCreateDir bool
}

// TemplateOption configures a Template.
type TemplateOption func(*Template)

// WithTemporarySuffix overrides the staging suffix for uploads and
// downloads (default ".writing").
func WithTemporarySuffix(suffix string) TemplateOption {
	return func(t *Template) {
		if suffix != "" {
			t.tempSuffix = suffix
		}
	}
}

// WithoutTemporaryName uploads directly to the final remote name instead of
// staging and renaming.
func WithoutTemporaryName() TemplateOption {
	return func(t *Template) {
		t.useTempName = false
	}
}

// WithAutoCreateDirectory creates missing remote parent directories before
// uploads.
func WithAutoCreateDirectory() TemplateOption {
	return func(t *Template) {
		t.autoCreateDir = true
	}
}

// NewTemplate creates a Template over the given factory.
func NewTemplate(factory SessionFactory, opts ...TemplateOption) *Template {
	t := &Template{
		factory:     factory,
		tempSuffix:  DefaultTemporarySuffix,
		useTempName: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute dials a session, invokes fn with it, and closes the session.
func (t *Template) Execute(ctx context.Context, fn func(Session) error) error {
	s, err := t.factory.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// Put uploads a local file to remotePath.
func (t *Template) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer f.Close()

	return t.PutReader(ctx, f, remotePath)
}

// PutReader uploads the contents of r to remotePath.
func (t *Template) PutReader(ctx context.Context, r io.Reader, remotePath string) error {
	return t.Execute(ctx, func(s Session) error {
		return t.put(s, r, remotePath)
	})
}

func (t *Template) put(s Session, r io.Reader, remotePath string) error {
	if t.autoCreateDir {
		if err := ensureRemoteDir(s, path.Dir(remotePath)); err != nil {
			return err
		}
	}

	if !t.useTempName {
		return s.Write(r, remotePath)
	}

	tempPath := remotePath + t.tempSuffix
	if err := s.Write(r, tempPath); err != nil {
		return err
	}
	if err := s.Rename(tempPath, remotePath); err != nil {
		s.Remove(tempPath)
		return fmt.Errorf("failed to publish %s: %w", remotePath, err)
	}
	return nil
}

// Append appends the contents of r to remotePath. Appends never use a
// temporary name.
func (t *Template) Append(ctx context.Context, r io.Reader, remotePath string) error {
	return t.Execute(ctx, func(s Session) error {
		if t.autoCreateDir {
			if err := ensureRemoteDir(s, path.Dir(remotePath)); err != nil {
				return err
			}
		}
		return s.Append(r, remotePath)
	})
}

// Get downloads a remote file to localPath. The download is staged under a
// temporary local name and renamed into place when complete.
func (t *Template) Get(ctx context.Context, remotePath, localPath string) error {
	return t.Execute(ctx, func(s Session) error {
		return fetchToFile(s, remotePath, localPath, t.tempSuffix)
	})
}

// Read streams a remote file into w.
func (t *Template) Read(ctx context.Context, remotePath string, w io.Writer) error {
	return t.Execute(ctx, func(s Session) error {
		return s.Read(remotePath, w)
	})
}

// Exists reports whether a remote path exists.
func (t *Template) Exists(ctx context.Context, remotePath string) (bool, error) {
	var exists bool
	err := t.Execute(ctx, func(s Session) error {
		var err error
		exists, err = s.Exists(remotePath)
		return err
	})
	return exists, err
}

// Remove deletes a remote file.
func (t *Template) Remove(ctx context.Context, remotePath string) error {
	return t.Execute(ctx, func(s Session) error {
		return s.Remove(remotePath)
	})
}

// Rename moves a remote file, replacing the destination if it exists.
func (t *Template) Rename(ctx context.Context, from, to string) error {
	return t.Execute(ctx, func(s Session) error {
		return s.Rename(from, to)
	})
}

// List returns the entries a remote path resolves to.
func (t *Template) List(ctx context.Context, remotePath string) ([]Entry, error) {
	var entries []Entry
	err := t.Execute(ctx, func(s Session) error {
		var err error
		entries, err = s.List(remotePath)
		return err
	})
	return entries, err
}

// fetchToFile downloads a remote file through an open session, staging it
// under a temporary local name until the stream is complete.
func fetchToFile(s Session, remotePath, localPath, tempSuffix string) error {
	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create local directory: %w", err)
		}
	}

	tempPath := localPath + tempSuffix
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	if err := s.Read(remotePath, f); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close local file: %w", err)
	}
	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// ensureRemoteDir creates a remote directory chain, parent first. Existing
// directories are left alone.
func ensureRemoteDir(s Session, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	if exists, err := s.Exists(dir); err == nil && exists {
		return nil
	}
	if err := ensureRemoteDir(s, path.Dir(dir)); err != nil {
		return err
	}
	if err := s.Mkdir(dir); err != nil {
		// Another writer may have created it between the check and the mkdir.
		if exists, exErr := s.Exists(dir); exErr == nil && exists {
			return nil
		}
		return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
	}
	return nil
}
