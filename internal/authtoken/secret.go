package authtoken

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"
)

// ErrEmptySecret is returned when a secret source has nothing to sign with.
var ErrEmptySecret = errors.New("authtoken: empty signing secret")

// SecretSource supplies the HMAC key used to sign and verify tokens.
type SecretSource interface {
	Secret() ([]byte, error)
}

// StaticSecret is a fixed signing key.
type StaticSecret []byte

// Secret returns a copy of the key.
func (s StaticSecret) Secret() ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrEmptySecret
	}
	return bytes.Clone(s), nil
}

// FileSecret reads the signing key from a file and re-reads it whenever the
// file changes. Surrounding whitespace is trimmed.
type FileSecret struct {
	path    string
	logger  pslog.Logger
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	secret []byte

	reloaded chan struct{}
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewFileSecret loads path and starts watching it. The parent directory is
// watched so editors and secret mounts that replace the file are seen.
func NewFileSecret(path string, logger pslog.Logger) (*FileSecret, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("authtoken: resolve %q: %w", path, err)
	}
	secret, err := readSecretFile(abs)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("authtoken: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("authtoken: watch %q: %w", filepath.Dir(abs), err)
	}
	fs := &FileSecret{
		path:     abs,
		logger:   logger,
		watcher:  watcher,
		secret:   secret,
		reloaded: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go fs.run()
	return fs, nil
}

// Secret returns the most recently loaded key.
func (f *FileSecret) Secret() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.secret) == 0 {
		return nil, ErrEmptySecret
	}
	return bytes.Clone(f.secret), nil
}

// Path returns the watched file.
func (f *FileSecret) Path() string {
	return f.path
}

// Reloaded is signalled after each successful reload.
func (f *FileSecret) Reloaded() <-chan struct{} {
	return f.reloaded
}

// Close stops the watcher.
func (f *FileSecret) Close() error {
	var err error
	f.once.Do(func() {
		close(f.stop)
		err = f.watcher.Close()
		<-f.done
	})
	return err
}

func (f *FileSecret) run() {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("auth.token.secret.watch_error", "path", f.path, "error", err)
		}
	}
}

func (f *FileSecret) reload() {
	secret, err := readSecretFile(f.path)
	if err != nil {
		// Keep the previous key while the file is missing or mid-write.
		f.logger.Debug("auth.token.secret.reload_skipped", "path", f.path, "error", err)
		return
	}
	f.mu.Lock()
	changed := !bytes.Equal(f.secret, secret)
	f.secret = secret
	f.mu.Unlock()
	if changed {
		f.logger.Info("auth.token.secret.reloaded", "path", f.path)
	}
	select {
	case f.reloaded <- struct{}{}:
	default:
	}
}

// ReadSecretFile loads path once without watching it.
func ReadSecretFile(path string) (StaticSecret, error) {
	return readSecretFile(path)
}

func readSecretFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authtoken: read secret file: %w", err)
	}
	secret := bytes.TrimSpace(raw)
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySecret, path)
	}
	return secret, nil
}
