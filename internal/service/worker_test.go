package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-cmp/cmp"

	"github.com/bucketcloner/bucketcloner/internal/config"
	"github.com/bucketcloner/bucketcloner/internal/logging"
	"github.com/bucketcloner/bucketcloner/pkg/bitbucket"
)

func commitFile(t *testing.T, dir, name, contents string) {
	t.Helper()

	repository, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("failed to open fixture repository: %v", err)
	}
	w, err := repository.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(name); err != nil {
		t.Fatal(err)
	}
	_, err = w.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func fixtureRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatalf("failed to init fixture repository: %v", err)
	}
	commitFile(t, dir, "README.md", "hello\n")
	return dir
}

// sshRepo is a repository API entry whose ssh clone link points at a
// local fixture path, so clones run without network or credentials.
func sshRepo(name, href string) bitbucket.Repository {
	return bitbucket.Repository{
		Name:  name,
		SCM:   "git",
		Links: bitbucket.Links{Clone: []bitbucket.CloneLink{{Name: "ssh", Href: href}}},
	}
}

func newWorker(t *testing.T, cfg *config.Root, repos []bitbucket.Repository) *SyncWorker {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"values": repos}); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(ts.Close)

	client := bitbucket.New("a@example.com", "token").WithBaseURL(ts.URL)
	logger := logging.NewLogger(logging.Config{Output: io.Discard})
	return NewSyncWorker(cfg, client, logger)
}

func baseConfig(t *testing.T) *config.Root {
	t.Helper()
	return &config.Root{
		Workspaces: []string{"acme"},
		BaseFolder: t.TempDir(),
		Auth:       config.AuthSSH,
	}
}

func TestRunClonesFreshRepository(t *testing.T) {
	cfg := baseConfig(t)
	worker := newWorker(t, cfg, []bitbucket.Repository{sshRepo("app", fixtureRepo(t))})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Cloned: 1}, summary); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(cfg.BaseFolder, "acme", "app", "README.md")); err != nil {
		t.Fatalf("expected clone under <base>/<workspace>/<repository>: %v", err)
	}
}

func TestRunSkipExistingLeavesPathUntouched(t *testing.T) {
	cfg := baseConfig(t)
	cfg.SkipExisting = true

	path := filepath.Join(cfg.BaseFolder, "acme", "app")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(path, "local-work.txt")
	if err := os.WriteFile(marker, []byte("precious"), 0644); err != nil {
		t.Fatal(err)
	}

	worker := newWorker(t, cfg, []bitbucket.Repository{sshRepo("app", fixtureRepo(t))})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Skipped: 1}, summary); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("skipping must not touch the existing path: %v", err)
	}
}

func TestRunRefreshPullsInsteadOfRecloning(t *testing.T) {
	cfg := baseConfig(t)
	src := fixtureRepo(t)
	repos := []bitbucket.Repository{sshRepo("app", src)}

	if _, err := newWorker(t, cfg, repos).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(cfg.BaseFolder, "acme", "app")
	marker := filepath.Join(path, "local-work.txt")
	if err := os.WriteFile(marker, []byte("precious"), 0644); err != nil {
		t.Fatal(err)
	}
	commitFile(t, src, "CHANGES.md", "news\n")

	cfg.Refresh = true
	summary, err := newWorker(t, cfg, repos).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Pulled: 1}, summary); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(path, "CHANGES.md")); err != nil {
		t.Fatalf("expected the refresh to fast-forward: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("refreshing must not delete the clone: %v", err)
	}
}

func TestRunDeletesAndReclonesByDefault(t *testing.T) {
	cfg := baseConfig(t)

	path := filepath.Join(cfg.BaseFolder, "acme", "app")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(path, "stale.txt")
	if err := os.WriteFile(marker, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	worker := newWorker(t, cfg, []bitbucket.Repository{sshRepo("app", fixtureRepo(t))})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Cloned: 1}, summary); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(marker); err == nil {
		t.Fatal("expected the stale path to be deleted before recloning")
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Fatalf("expected a fresh clone after deletion: %v", err)
	}
}

func TestRunDeletionPermissionDenied(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}

	cfg := baseConfig(t)

	workspaceDir := filepath.Join(cfg.BaseFolder, "acme")
	path := filepath.Join(workspaceDir, "app")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(workspaceDir, 0555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(workspaceDir, 0755) })

	worker := newWorker(t, cfg, []bitbucket.Repository{sshRepo("app", fixtureRepo(t))})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Failed: 1}, summary); diff != "" {
		t.Fatalf("an undeletable path must fail the repository, not the run (-want +got):\n%s", diff)
	}
}

func TestRunSkipsNonGitRepositories(t *testing.T) {
	cfg := baseConfig(t)

	repo := sshRepo("legacy", fixtureRepo(t))
	repo.SCM = "hg"
	worker := newWorker(t, cfg, []bitbucket.Repository{repo})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Skipped: 1}, summary); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(cfg.BaseFolder, "acme", "legacy")); err == nil {
		t.Fatal("a non-git repository must never be cloned")
	}
}

func TestRunSkipsMissingCloneLink(t *testing.T) {
	cfg := baseConfig(t)

	repo := bitbucket.Repository{
		Name:  "app",
		SCM:   "git",
		Links: bitbucket.Links{Clone: []bitbucket.CloneLink{{Name: "https", Href: "https://bitbucket.org/acme/app.git"}}},
	}
	worker := newWorker(t, cfg, []bitbucket.Repository{repo})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Skipped: 1}, summary); diff != "" {
		t.Fatalf("a repository without the configured transport must be skipped (-want +got):\n%s", diff)
	}
}

func TestRunAppliesNameFilters(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Include = []string{"app-*"}
	cfg.Exclude = []string{"*-archive"}

	worker := newWorker(t, cfg, []bitbucket.Repository{
		sshRepo("app-core", fixtureRepo(t)),
		sshRepo("app-archive", fixtureRepo(t)),
		sshRepo("website", fixtureRepo(t)),
	})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Cloned: 1, Skipped: 2}, summary); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(cfg.BaseFolder, "acme", "app-core")); err != nil {
		t.Fatalf("expected the included repository to be cloned: %v", err)
	}
	for _, name := range []string{"app-archive", "website"} {
		if _, err := os.Stat(filepath.Join(cfg.BaseFolder, "acme", name)); err == nil {
			t.Fatalf("expected %s to be filtered out", name)
		}
	}
}

func TestRunInvalidIncludePattern(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Include = []string{"["}

	worker := newWorker(t, cfg, nil)
	if _, err := worker.Run(context.Background()); err == nil {
		t.Fatal("expected a malformed include pattern to abort the run")
	}
}

func TestRunProjectFolders(t *testing.T) {
	cfg := baseConfig(t)
	cfg.ProjectFolders = true

	repo := sshRepo("app", fixtureRepo(t))
	repo.Project = &bitbucket.Project{Name: "Platform", Key: "PLAT"}
	worker := newWorker(t, cfg, []bitbucket.Repository{repo})

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Summary{Cloned: 1}, summary); diff != "" {
		t.Fatalf("unexpected summary (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(cfg.BaseFolder, "acme", "PLAT", "app", "README.md")); err != nil {
		t.Fatalf("expected clone under <base>/<workspace>/<project>/<repository>: %v", err)
	}
}
