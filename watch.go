package remotefile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is uploaded.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a local hot folder and uploads files to a remote directory
// as they appear. Writes are debounced so a file is only uploaded once its
// producer has finished writing it.
type Watcher struct {
	template  *Template
	localDir  string
	remoteDir string

	pattern     string
	debounce    time.Duration
	removeLocal bool
	retryConfig RetryConfig
	log         *log.Logger

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
	stop    sync.Once
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchPattern restricts uploads to filenames matching a shell-style glob.
func WithWatchPattern(glob string) WatchOption {
	return func(w *Watcher) {
		w.pattern = glob
	}
}

// WithDebounce sets the quiet period before an updated file is uploaded.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRemoveAfterUpload deletes local files once they have been uploaded.
func WithRemoveAfterUpload() WatchOption {
	return func(w *Watcher) {
		w.removeLocal = true
	}
}

// WithUploadRetry sets the retry configuration for uploads.
func WithUploadRetry(config RetryConfig) WatchOption {
	return func(w *Watcher) {
		w.retryConfig = config
	}
}

// WithWatchLogger sets the logger for watch events and upload failures.
func WithWatchLogger(l *log.Logger) WatchOption {
	return func(w *Watcher) {
		w.log = l
	}
}

// NewWatcher creates a watcher that uploads files from localDir to remoteDir
// through the template.
func NewWatcher(template *Template, localDir, remoteDir string, opts ...WatchOption) *Watcher {
	w := &Watcher{
		template:    template,
		localDir:    localDir,
		remoteDir:   remoteDir,
		debounce:    DefaultDebounce,
		retryConfig: DefaultRetryConfig(),
		pending:     make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) logger() *log.Logger {
	if w.log != nil {
		return w.log
	}
	return log.Default()
}

// Start begins watching the local directory. It returns immediately; events
// are processed in the background until Stop is called or the context is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsw.Add(w.localDir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.localDir, err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop shuts the watcher down and waits for in-flight uploads to finish.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if w.fsw != nil {
			w.fsw.Close()
		}
		w.wg.Wait()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger().Printf("[WARN] Watch error on %s: %v", w.localDir, err)
		}
	}
}

// schedule arms or rewinds the debounce timer for a path. Hidden files and
// staging files are ignored.
func (w *Watcher) schedule(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, w.template.tempSuffix) {
		return
	}
	if w.pattern != "" && !matchName(w.pattern, name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.upload(ctx, path)
	})
}

func (w *Watcher) upload(ctx context.Context, path string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	name := filepath.Base(path)
	remotePath := joinRemote(w.remoteDir, name)
	err = Retry(ctx, w.retryConfig, "upload "+name, func() error {
		return w.template.Put(ctx, path, remotePath)
	})
	if err != nil {
		w.logger().Printf("[WARN] Failed to upload %s: %v", path, err)
		return
	}
	w.logger().Printf("Uploaded %s to %s", path, remotePath)

	if w.removeLocal {
		if err := os.Remove(path); err != nil {
			w.logger().Printf("[WARN] Failed to remove %s after upload: %v", path, err)
		}
	}
}
