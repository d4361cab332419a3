package session_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintscraper/internal/core/session"
	"maintscraper/internal/logger"
	"maintscraper/internal/testutil/fakeportal"
)

func testLogger() *logger.Logger {
	return logger.NewWithConfig("test", logger.Config{Out: io.Discard})
}

func TestOpenBaseLogsInAndExportsState(t *testing.T) {
	root := t.TempDir()
	launcher := &fakeportal.Launcher{}
	prompter := &fakeportal.Prompter{Answers: []string{"hunter2"}}
	m := session.NewManager(session.Options{Root: root, Launcher: launcher, Prompter: prompter}, testLogger())

	s, err := m.Open(context.Background(), session.Account{Username: "alice"}, 0, true)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, session.ProfileDir(root, "alice", 0), s.Dir)
	assert.Equal(t, []string{"Password: "}, prompter.Asked)
	assert.Equal(t, []string{"alice:hunter2"}, launcher.Launched[0].Credentials)
	assert.Equal(t, "hunter2", s.Account().Password)
	assert.FileExists(t, filepath.Join(s.Dir, session.StateFile))
}

func TestOpenBaseSkipsLoginWhenProfileIsAuthenticated(t *testing.T) {
	launcher := &fakeportal.Launcher{Make: func(string) *fakeportal.Browser {
		b := fakeportal.New()
		b.LoggedIn = true
		return b
	}}
	m := session.NewManager(session.Options{Root: t.TempDir(), Launcher: launcher}, testLogger())

	s, err := m.Open(context.Background(), session.Account{Username: "alice"}, 0, true)
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, launcher.Launched[0].Credentials)
}

func TestOpenBaseTimesOutWaitingForSecondFactor(t *testing.T) {
	launcher := &fakeportal.Launcher{Make: func(string) *fakeportal.Browser {
		b := fakeportal.New()
		b.SecondFactor = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		return b
	}}
	m := session.NewManager(session.Options{
		Root:        t.TempDir(),
		Launcher:    launcher,
		AuthTimeout: 20 * time.Millisecond,
	}, testLogger())

	_, err := m.Open(context.Background(), session.Account{Username: "alice", Password: "pw"}, 0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrAuthTimeout)
	assert.True(t, launcher.Launched[0].Closed, "driver must be released on timeout")
}

func TestOpenFailsWithoutCredentialsOrPrompt(t *testing.T) {
	m := session.NewManager(session.Options{Root: t.TempDir(), Launcher: &fakeportal.Launcher{}}, testLogger())

	_, err := m.Open(context.Background(), session.Account{Username: "alice"}, 0, true)
	assert.ErrorIs(t, err, session.ErrSessionInit)
}

func TestOpenLaunchFailureIsInitError(t *testing.T) {
	m := session.NewManager(session.Options{
		Root:     t.TempDir(),
		Launcher: &fakeportal.Launcher{Err: errors.New("no chromium")},
	}, testLogger())

	_, err := m.Open(context.Background(), session.Account{Username: "alice"}, 0, true)
	var initErr *session.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "launch", initErr.Step)
	assert.ErrorIs(t, err, session.ErrSessionInit)
}

func TestOpenCloneCopiesBaseProfile(t *testing.T) {
	root := t.TempDir()
	launcher := &fakeportal.Launcher{}
	m := session.NewManager(session.Options{Root: root, Launcher: launcher}, testLogger())
	account := session.Account{Username: "alice", Password: "pw"}

	base, err := m.Open(context.Background(), account, 0, true)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(base.Dir, "Default"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base.Dir, "Default", "Cookies"), []byte("c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base.Dir, "SingletonLock"), []byte("x"), 0o644))
	require.NoError(t, base.Close())

	clone, err := m.Open(context.Background(), account, 2, true)
	require.NoError(t, err)
	defer clone.Close()

	assert.Equal(t, session.ProfileDir(root, "alice", 2), clone.Dir)
	assert.FileExists(t, filepath.Join(clone.Dir, "Default", "Cookies"))
	assert.FileExists(t, filepath.Join(clone.Dir, session.StateFile))
	assert.NoFileExists(t, filepath.Join(clone.Dir, "SingletonLock"))
	assert.True(t, launcher.Launched[1].StateLoaded)
	assert.Empty(t, launcher.Launched[1].Credentials, "clones never log in")
}

func TestOpenCloneWithoutAuthenticatedBaseFails(t *testing.T) {
	m := session.NewManager(session.Options{Root: t.TempDir(), Launcher: &fakeportal.Launcher{}}, testLogger())

	_, err := m.Open(context.Background(), session.Account{Username: "alice"}, 1, true)
	assert.ErrorIs(t, err, session.ErrSessionInit)
}

func TestCloseIsIdempotentAndKeepsProfile(t *testing.T) {
	m := session.NewManager(session.Options{Root: t.TempDir(), Launcher: &fakeportal.Launcher{}}, testLogger())
	s, err := m.Open(context.Background(), session.Account{Username: "bob", Password: "pw"}, 0, true)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.DirExists(t, s.Dir)
}

func TestProfileDirIsStablePerAccountAndWorker(t *testing.T) {
	a := session.ProfileDir("/p", "alice", 0)
	assert.Equal(t, a, session.ProfileDir("/p", "alice", 0))
	assert.NotEqual(t, a, session.ProfileDir("/p", "bob", 0))
	assert.Equal(t, "1", filepath.Base(session.ProfileDir("/p", "alice", 1)))
}
