package remotefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Synchronizer mirrors a remote directory into a local directory. Files are
// fetched once and remembered by size and modification time, so repeated
// runs only transfer new or changed files. With a state file configured, the
// memory survives restarts.
type Synchronizer struct {
	factory   SessionFactory
	remoteDir string
	localDir  string

	pattern         string
	recursive       bool
	deleteRemote    bool
	preserveModTime bool
	parallelism     int
	maxFetch        int
	tempSuffix      string
	retryConfig     RetryConfig
	statePath       string

	state *syncState
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithPattern restricts the sync to filenames matching a shell-style glob.
func WithPattern(glob string) SyncOption {
	return func(sy *Synchronizer) {
		sy.pattern = glob
	}
}

// WithRecursive descends into remote subdirectories, mirroring the tree
// structure locally.
func WithRecursive() SyncOption {
	return func(sy *Synchronizer) {
		sy.recursive = true
	}
}

// WithDeleteRemote removes remote files after they have been fetched.
func WithDeleteRemote() SyncOption {
	return func(sy *Synchronizer) {
		sy.deleteRemote = true
	}
}

// WithPreserveModTime stamps fetched files with the remote modification time.
func WithPreserveModTime() SyncOption {
	return func(sy *Synchronizer) {
		sy.preserveModTime = true
	}
}

// WithParallelism sets the number of concurrent fetch workers (default 4).
// Each worker dials its own session.
func WithParallelism(n int) SyncOption {
	return func(sy *Synchronizer) {
		if n > 0 {
			sy.parallelism = n
		}
	}
}

// WithMaxFetch caps the number of files fetched per sync run.
func WithMaxFetch(n int) SyncOption {
	return func(sy *Synchronizer) {
		sy.maxFetch = n
	}
}

// WithRetryConfig sets the retry configuration for scans and fetches.
func WithRetryConfig(config RetryConfig) SyncOption {
	return func(sy *Synchronizer) {
		sy.retryConfig = config
	}
}

// WithStateFile persists the accept-once memory as JSON at the given path.
func WithStateFile(path string) SyncOption {
	return func(sy *Synchronizer) {
		sy.statePath = path
	}
}

// NewSynchronizer creates a synchronizer that mirrors remoteDir into
// localDir using sessions from the factory.
func NewSynchronizer(factory SessionFactory, remoteDir, localDir string, opts ...SyncOption) (*Synchronizer, error) {
	sy := &Synchronizer{
		factory:     factory,
		remoteDir:   remoteDir,
		localDir:    localDir,
		parallelism: 4,
		tempSuffix:  DefaultTemporarySuffix,
		retryConfig: DefaultRetryConfig(),
		state:       newSyncState(),
	}

	for _, opt := range opts {
		opt(sy)
	}

	if sy.statePath != "" {
		state, err := loadSyncState(sy.statePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load sync state: %w", err)
		}
		sy.state = state
	}

	return sy, nil
}

// FileResult records the outcome for a single remote file.
type FileResult struct {
	// RemotePath is the file's full remote path.
	RemotePath string

	// LocalPath is the destination path the file was written to.
	LocalPath string

	// Size is the remote file size in bytes.
	Size int64

	// Fetched indicates the file was transferred during this run.
	Fetched bool

	// Deleted indicates the remote file was removed after the fetch.
	Deleted bool

	// Error contains any error that occurred for this file.
	Error error
}

// SyncReport summarizes a sync run.
type SyncReport struct {
	// Files contains the per-file results for everything fetched or failed.
	Files []FileResult

	// Fetched is the number of files transferred.
	Fetched int

	// Skipped is the number of files left alone, either because they were
	// already fetched and unchanged or because the MaxFetch cap was reached.
	Skipped int

	// Deleted is the number of remote files removed after fetching.
	Deleted int

	// Errors is the number of files that failed.
	Errors int

	// TotalSize is the total size of all fetched files.
	TotalSize int64
}

type syncJob struct {
	entry     Entry
	localPath string
}

// Sync performs one synchronization run.
func (sy *Synchronizer) Sync(ctx context.Context) (*SyncReport, error) {
	var candidates []Entry
	err := Retry(ctx, sy.retryConfig, "scan remote directory", func() error {
		s, err := sy.factory.Dial(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		found, err := sy.scan(s, sy.remoteDir)
		if err != nil {
			return err
		}
		candidates = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Path < candidates[j].Path
	})

	report := &SyncReport{}

	jobs := make([]syncJob, 0, len(candidates))
	for _, e := range candidates {
		if !sy.state.accept(e.Path, e.Size, e.ModTime) {
			report.Skipped++
			continue
		}
		if sy.maxFetch > 0 && len(jobs) == sy.maxFetch {
			report.Skipped++
			continue
		}
		rel := relativeRemote(sy.remoteDir, e.Path)
		jobs = append(jobs, syncJob{
			entry:     e,
			localPath: filepath.Join(sy.localDir, filepath.FromSlash(rel)),
		})
	}

	if len(jobs) == 0 {
		return report, sy.persistState()
	}

	parallelism := sy.parallelism
	if parallelism > len(jobs) {
		parallelism = len(jobs)
	}

	jobChan := make(chan syncJob, len(jobs))
	resultChan := make(chan FileResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var sess Session
			dialErr := Retry(ctx, sy.retryConfig, "connect", func() error {
				var err error
				sess, err = sy.factory.Dial(ctx)
				return err
			})
			if sess != nil {
				defer sess.Close()
			}

			for job := range jobChan {
				result := FileResult{
					RemotePath: job.entry.Path,
					LocalPath:  job.localPath,
					Size:       job.entry.Size,
				}

				if dialErr != nil {
					result.Error = dialErr
					resultChan <- result
					continue
				}
				if ctx.Err() != nil {
					result.Error = ctx.Err()
					resultChan <- result
					continue
				}

				err := Retry(ctx, sy.retryConfig, "fetch file", func() error {
					return sy.fetchOne(sess, job, &result)
				})
				if err != nil {
					result.Error = err
				}
				resultChan <- result
			}
		}()
	}

	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		report.Files = append(report.Files, r)
		switch {
		case r.Error != nil:
			report.Errors++
		default:
			report.Fetched++
			report.TotalSize += r.Size
			if r.Deleted {
				report.Deleted++
			}
		}
	}

	sort.Slice(report.Files, func(i, j int) bool {
		return report.Files[i].RemotePath < report.Files[j].RemotePath
	})

	return report, sy.persistState()
}

// scan lists the remote directory tree and returns the files eligible for
// fetching. Files still being staged by a writer are skipped.
func (sy *Synchronizer) scan(s Session, dir string) ([]Entry, error) {
	entries, err := s.List(dir)
	if err != nil {
		return nil, err
	}

	var files []Entry
	for _, e := range entries {
		if e.IsDir() {
			if sy.recursive {
				sub, err := sy.scan(s, e.Path)
				if err != nil {
					return nil, err
				}
				files = append(files, sub...)
			}
			continue
		}
		if strings.HasSuffix(e.Name, sy.tempSuffix) {
			continue
		}
		if sy.pattern != "" && !matchName(sy.pattern, e.Name) {
			continue
		}
		files = append(files, e)
	}
	return files, nil
}

func (sy *Synchronizer) fetchOne(s Session, job syncJob, result *FileResult) error {
	if err := fetchToFile(s, job.entry.Path, job.localPath, sy.tempSuffix); err != nil {
		return err
	}
	result.Fetched = true

	if sy.preserveModTime && !job.entry.ModTime.IsZero() {
		if err := os.Chtimes(job.localPath, job.entry.ModTime, job.entry.ModTime); err != nil {
			return fmt.Errorf("failed to preserve mod time of %s: %w", job.localPath, err)
		}
	}

	sy.state.record(job.entry.Path, job.entry.Size, job.entry.ModTime)

	if sy.deleteRemote {
		if err := s.Remove(job.entry.Path); err != nil {
			return fmt.Errorf("failed to remove remote file %s: %w", job.entry.Path, err)
		}
		result.Deleted = true
	}
	return nil
}

func (sy *Synchronizer) persistState() error {
	if sy.statePath == "" {
		return nil
	}
	if err := sy.state.save(sy.statePath); err != nil {
		return fmt.Errorf("failed to persist sync state: %w", err)
	}
	return nil
}

// relativeRemote strips the remote root from a full entry path.
func relativeRemote(root, full string) string {
	root = strings.Trim(root, "/")
	full = strings.TrimPrefix(full, "/")
	if root == "" {
		return full
	}
	return strings.TrimPrefix(full, root+"/")
}

// fileRecord is the persisted memory of one fetched file.
type fileRecord struct {
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	SyncedAt time.Time `json:"synced_at"`
}

// syncState is the accept-once filter: a file is fetched when it has no
// record or its size or modification time changed since the last fetch.
type syncState struct {
	mu      sync.Mutex
	records map[string]fileRecord
}

func newSyncState() *syncState {
	return &syncState{records: make(map[string]fileRecord)}
}

func loadSyncState(path string) (*syncState, error) {
	state := newSyncState()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &state.records); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	return state, nil
}

func (st *syncState) accept(path string, size int64, modTime time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.records[path]
	if !ok {
		return true
	}
	return rec.Size != size || !rec.ModTime.Equal(modTime)
}

func (st *syncState) record(path string, size int64, modTime time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.records[path] = fileRecord{
		Size:     size,
		ModTime:  modTime,
		SyncedAt: time.Now(),
	}
}

func (st *syncState) save(path string) error {
	st.mu.Lock()
	data, err := json.MarshalIndent(st.records, "", "  ")
	st.mu.Unlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
