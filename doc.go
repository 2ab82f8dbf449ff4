// Package remotefile provides protocol-neutral remote file transfer over
// SFTP and FTP.
//
// This package provides:
//   - A Session interface covering listing, reading, writing, and renaming
//     remote files, with SFTP and FTP implementations
//   - Session pooling for efficient connection reuse
//   - Retry logic with exponential backoff for transient failures
//   - Support for various authentication methods (private key, password,
//     certificate, SSH agent)
//   - Bastion/jump host support for multi-hop SSH connections
//   - A Template for safe uploads via temporary names, a directory
//     synchronizer, a hot-folder watcher, and a cron poller
//
// # Basic Usage
//
// Create a session factory and upload a file:
//
//	factory := remotefile.NewSFTPSessionFactory(remotefile.SFTPConfig{
//		Host:    "example.com",
//		Port:    22,
//		User:    "deploy",
//		KeyPath: "~/.ssh/id_ed25519",
//	})
//
//	session, err := factory.Dial(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	f, err := os.Open("/local/path/file.txt")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer f.Close()
//
//	err = session.Write(f, "/remote/path/file.txt")
//
// # Session Pooling
//
// For repeated operations against the same host, wrap the factory in a pool.
// Sessions are returned to the pool on Close:
//
//	pool := remotefile.NewSessionPool(factory, remotefile.WithMaxSize(5))
//	defer pool.Close()
//
//	session, err := pool.Get(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
// # High-Level API
//
// The Template dials, stages, and renames so partial uploads are never
// visible under their final name:
//
//	template := remotefile.NewTemplate(pool)
//
//	err = template.Put(ctx, "/local/file.txt", "/remote/inbox/file.txt")
//
// The Synchronizer mirrors a remote directory, fetching each file once:
//
//	sy, err := remotefile.NewSynchronizer(pool, "/remote/outbox", "/local/inbox",
//		remotefile.WithPattern("*.csv"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	report, err := sy.Sync(ctx)
package remotefile
