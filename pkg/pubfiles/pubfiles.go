// Package pubfiles mints and verifies the HMAC tokens behind unauthenticated
// /pub/{token}/{filename} downloads of files a task left in its workspace
// pub/ directory.
package pubfiles

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoSecret means the configured pub secret environment variable is unset;
// pub links are disabled until it is.
var ErrNoSecret = errors.New("pub secret is not configured")

// Service mints per-(session, filename) download tokens and resolves them
// back to files under the sessions directory.
type Service struct {
	secretEnv   string
	sessionsDir string
}

// New builds a pub-file service. sessionsDir is <kiso-dir>/sessions.
func New(secretEnv, sessionsDir string) *Service {
	return &Service{secretEnv: secretEnv, sessionsDir: sessionsDir}
}

func (s *Service) secret() ([]byte, error) {
	v := os.Getenv(s.secretEnv)
	if v == "" {
		return nil, fmt.Errorf("%w: %s is unset", ErrNoSecret, s.secretEnv)
	}
	return []byte(v), nil
}

// Mint returns the download token for a session's pub file.
func (s *Service) Mint(session, filename string) (string, error) {
	secret, err := s.secret()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(session))
	mac.Write([]byte{0})
	mac.Write([]byte(filename))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether token matches (session, filename), in constant time.
func (s *Service) Verify(token, session, filename string) bool {
	want, err := s.Mint(session, filename)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(token), []byte(want))
}

// Resolve maps a (token, filename) pair to the on-disk file it names, by
// checking the token against every session that has the file. Returns the
// absolute path, or ok=false — the caller answers 404 for anything else.
func (s *Service) Resolve(token, filename string) (string, bool) {
	// Path traversal in the filename segment never reaches the disk.
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", false
	}
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !s.Verify(token, e.Name(), filename) {
			continue
		}
		path := filepath.Join(s.sessionsDir, e.Name(), "pub", filename)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// URL returns the download path for a session's pub file.
func (s *Service) URL(session, filename string) (string, error) {
	token, err := s.Mint(session, filename)
	if err != nil {
		return "", err
	}
	return "/pub/" + token + "/" + filename, nil
}

// Snapshot lists the files currently under a workspace's pub/ directory.
func Snapshot(workspace string) map[string]bool {
	out := map[string]bool{}
	entries, err := os.ReadDir(filepath.Join(workspace, "pub"))
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			out[e.Name()] = true
		}
	}
	return out
}

// NewSince returns the pub files present now that were not in the snapshot,
// sorted by name.
func NewSince(workspace string, before map[string]bool) []string {
	var out []string
	for name := range Snapshot(workspace) {
		if !before[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
