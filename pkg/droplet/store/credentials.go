package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/dropletd/droplet/pkg/droplet"
)

const usernameAttempts = 100

// CredentialFile is a file-backed droplet.CredentialStore. The file may be
// appended to by an external administrative process between snapshots;
// Watch feeds those changes back through Reload.
type CredentialFile struct {
	mu         sync.RWMutex
	path       string
	identities map[string]*droplet.Identity
	logger     *slog.Logger
}

// OpenCredentialFile loads the credential table from path. A missing file is
// bootstrapped with a single identity and a freshly minted token, which is
// logged exactly once for the operator.
func OpenCredentialFile(path string, logger *slog.Logger) (*CredentialFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CredentialFile{
		path:       path,
		identities: make(map[string]*droplet.Identity),
		logger:     logger,
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		token := uuid.NewString()
		s.identities[token] = &droplet.Identity{Token: token, Username: "admin"}
		if err := s.persistLocked(); err != nil {
			return nil, fmt.Errorf("initialize credential table: %w", err)
		}
		logger.Warn("credential table created, note the bootstrap token now; it is not logged again",
			"path", path,
			"username", "admin",
			"token", token)
	case err != nil:
		return nil, fmt.Errorf("read credential table: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.identities); err != nil {
			return nil, fmt.Errorf("parse credential table %s: %w", path, err)
		}
	}

	return s, nil
}

// Authenticate is a pure lookup; it never mutates the table.
func (s *CredentialFile) Authenticate(ctx context.Context, token string) (*droplet.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[token]
	if !ok {
		return nil, false
	}
	cp := *ident
	return &cp, true
}

// RecordUpload increments the token's upload counter, registering an
// identity with a generated unique username when the token is unknown. The
// whole table is snapshotted before RecordUpload returns.
func (s *CredentialFile) RecordUpload(ctx context.Context, token string) (*droplet.Identity, error) {
	if token == "" {
		return nil, droplet.ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[token]
	if !ok {
		username, err := s.uniqueUsernameLocked()
		if err != nil {
			return nil, err
		}
		ident = &droplet.Identity{Token: token, Username: username}
		s.identities[token] = ident
		s.logger.Info("identity registered", "username", username)
	}
	ident.UploadCount++

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	cp := *ident
	return &cp, nil
}

// Reload re-reads the credential file. In-memory state is replaced only
// when the token set differs, so reload is idempotent for unchanged files.
// Against concurrent RecordUpload snapshots the policy is last-writer-wins.
func (s *CredentialFile) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reload credential table: %w", err)
	}
	fresh := make(map[string]*droplet.Identity)
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return fmt.Errorf("parse credential table %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for token, ident := range fresh {
		if _, ok := s.identities[token]; !ok {
			changed = true
			s.logger.Info("credential added externally", "username", ident.Username)
		}
	}
	for token := range s.identities {
		if _, ok := fresh[token]; !ok {
			changed = true
			s.logger.Info("credential removed externally", "username", s.identities[token].Username)
		}
	}
	if changed {
		s.identities = fresh
	}
	return nil
}

// Watch feeds external edits of the credential file into Reload until ctx
// is done. Run it on its own goroutine.
func (s *CredentialFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credential watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: snapshot writes replace the file by rename, which
	// would silently detach a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("credential watcher: %w", err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Error("credential reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("credential watcher error", "error", err)
		}
	}
}

// Tokens returns the current token set. Intended for tests and admin
// tooling.
func (s *CredentialFile) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]string, 0, len(s.identities))
	for token := range s.identities {
		tokens = append(tokens, token)
	}
	return tokens
}

func (s *CredentialFile) persistLocked() error {
	return writeSnapshot(s.path, s.identities)
}

// uniqueUsernameLocked synthesizes a username absent from the table,
// regenerating on collision under the same bounded-retry policy as
// identifier minting.
func (s *CredentialFile) uniqueUsernameLocked() (string, error) {
	for i := 0; i < usernameAttempts; i++ {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return "", err
		}
		candidate := "user-" + hex.EncodeToString(b[:])
		if !s.usernameTakenLocked(candidate) {
			return candidate, nil
		}
	}
	return "", droplet.ErrIDSpaceExhausted
}

func (s *CredentialFile) usernameTakenLocked(username string) bool {
	for _, ident := range s.identities {
		if ident.Username == username {
			return true
		}
	}
	return false
}
