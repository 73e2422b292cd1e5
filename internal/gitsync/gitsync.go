// gitsync package wraps the git client used to materialize Bitbucket
// repositories on local disk. Each Synchronizer handles exactly one
// repository path; all policy (skip, refresh, delete-and-reclone) lives
// with the caller. This package implements no threadpooling and the
// Synchronizer is not thread-safe.
package gitsync

import (
	"cmp"
	"context"
	"fmt"
	"net"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/bucketcloner/bucketcloner/internal/config"
)

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

// wellknownFingerprints are the published SHA256 host key fingerprints
// of the git hosts an SSH-mode clone is likely to talk to.
var wellknownFingerprints = []string{
	"SHA256:zzXQOXSRBEiUtuE8AikJYKwbHaxvSc0ojez9YXaGp1A", // bitbucket.org https://support.atlassian.com/bitbucket-cloud/docs/configure-ssh-and-two-step-verification/
	"SHA256:uNiVztksCsDhcc0u9e8BujQXVUpKZIDTMczCvj3tD2s", // github.com https://docs.github.com/en/github/authenticating-to-github/githubs-ssh-key-fingerprints
	"SHA256:p2QAMXNIC1TJYWeIOttrVc98/R1BUFWu3/LiyKgUfQM", // github.com
	"SHA256:+DiY3wvvV6TuJJhbpZisF/zLDA0zPMSvHdkr4UvCOqU", // github.com
	"SHA256:ohD8VZEXGWo6Ez8GSEJQ9WpafgLFsOfLOtGGQCQo6Og", // dev.azure.com https://github.com/MicrosoftDocs/azure-devops-docs/issues/7726 (also available through user settings after signing in)
}

// Synchronizer manages a single local repository clone. The caller
// should guarantee that the path is unique per repository and not
// shared between Synchronizer instances.
type Synchronizer struct {
	path         string
	url          string
	mode         config.AuthMode
	fingerprints []string
}

// New creates a Synchronizer for the repository at url, cloned to
// path. In HTTPS mode the url is expected to carry its credentials
// already; in SSH mode authentication comes from the local ssh-agent.
func New(path, url string, mode config.AuthMode) *Synchronizer {
	return &Synchronizer{path: path, url: url, mode: mode}
}

// WithFingerprints overrides the accepted SSH host key fingerprints.
func (s *Synchronizer) WithFingerprints(fingerprints []string) *Synchronizer {
	s.fingerprints = fingerprints
	return s
}

// Clone performs a fresh clone into the configured path, which must not
// exist yet.
func (s *Synchronizer) Clone(ctx context.Context) error {
	authMethod, err := s.auth()
	if err != nil {
		return err
	}

	_, err = git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
		URL:               s.url,
		Auth:              authMethod,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	return err
}

// Pull opens the existing clone at the configured path and
// fast-forwards the current branch from the "origin" remote. An
// already up to date clone is a success.
func (s *Synchronizer) Pull(ctx context.Context) error {
	repository, err := git.PlainOpen(s.path)
	if err != nil {
		return err
	}

	w, err := repository.Worktree()
	if err != nil {
		return err
	}

	authMethod, err := s.auth()
	if err != nil {
		return err
	}

	err = w.PullContext(ctx, &git.PullOptions{
		RemoteName: "origin",
		Auth:       authMethod,
	})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	return err
}

// auth builds the transport auth method. HTTPS URLs carry the token in
// the URL itself, and local paths (used by tests and mirrors) need no
// auth at all, so only true ssh endpoints get an agent-backed method.
func (s *Synchronizer) auth() (transport.AuthMethod, error) {
	if s.mode != config.AuthSSH {
		return nil, nil
	}

	ep, err := transport.NewEndpoint(s.url)
	if err != nil || ep.Protocol != "ssh" {
		return nil, nil
	}

	authMethod, err := gitssh.NewSSHAgentAuth(cmp.Or(ep.User, "git"))
	if err != nil {
		return nil, err
	}

	fingerprints := s.fingerprints
	if len(fingerprints) == 0 {
		fingerprints = wellknownFingerprints
	}
	authMethod.HostKeyCallbackHelper = gitssh.HostKeyCallbackHelper{
		HostKeyCallback: newCheckFingerprints(fingerprints),
	}
	return authMethod, nil
}

func newCheckFingerprints(fingerprints []string) ssh.HostKeyCallback {
	m := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		m[fp] = true
	}

	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)
		if _, ok := m[fingerprint]; !ok {
			return fmt.Errorf("ssh: unknown fingerprint (%s) for %s", fingerprint, hostname)
		}
		return nil
	}
}
