package helm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// fakeRunner records invocations and plays back canned results.
type fakeRunner struct {
	calls  []fakeCall
	stdout []byte
	stderr []byte
	err    error
}

type fakeCall struct {
	stdin []byte
	name  string
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, fakeCall{stdin: stdin, name: name, args: args})
	return f.stdout, f.stderr, f.err
}

func newTestClient(run *fakeRunner) *Client {
	c := NewClient("kind-test", "platform", logr.Discard())
	c.run = run
	return c
}

func TestAddRepoBuildsArgs(t *testing.T) {
	run := &fakeRunner{}
	c := newTestClient(run)

	err := c.AddRepo(context.Background(), Repo{
		Name:     "platform",
		URL:      "https://charts.example.com",
		Username: "robot",
		Password: "hunter2",
	})

	require.NoError(t, err)
	require.Len(t, run.calls, 1)
	assert.Equal(t, helmBinary, run.calls[0].name)
	assert.Equal(t, []string{
		"repo", "add", "platform", "https://charts.example.com",
		"--username", "robot", "--password", "hunter2",
		"--kube-context", "kind-test", "--namespace", "platform",
		"--force-update",
	}, run.calls[0].args)
}

func TestAddRepoFailure(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("repo unreachable")}
	c := newTestClient(run)

	err := c.AddRepo(context.Background(), Repo{Name: "platform", URL: "https://charts.example.com"})

	assert.ErrorContains(t, err, "adding helm repo platform")
}

func TestGetReleaseFound(t *testing.T) {
	run := &fakeRunner{stdout: []byte(`[{"name":"platform","namespace":"platform","chart":"platform-1.2.3","status":"deployed"}]`)}
	c := newTestClient(run)

	release, err := c.GetRelease(context.Background(), "platform")

	require.NoError(t, err)
	require.NotNil(t, release)
	assert.Equal(t, "platform", release.Name)
	assert.Equal(t, "platform-1.2.3", release.Chart)
	assert.Equal(t, StatusDeployed, release.Status)
	assert.Contains(t, run.calls[0].args, "^platform$")
}

func TestGetReleaseAbsent(t *testing.T) {
	for _, stdout := range []string{"", "[]"} {
		run := &fakeRunner{stdout: []byte(stdout)}
		c := newTestClient(run)

		release, err := c.GetRelease(context.Background(), "platform")

		require.NoError(t, err)
		assert.Nil(t, release)
	}
}

func TestGetReleaseValuesNotFound(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("Error: release: not found")}
	c := newTestClient(run)

	values, err := c.GetReleaseValues(context.Background(), "platform")

	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestGetReleaseValues(t *testing.T) {
	run := &fakeRunner{stdout: []byte(`{"platform":{"token":"abc"}}`)}
	c := newTestClient(run)

	values, err := c.GetReleaseValues(context.Background(), "platform")

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"platform": map[string]any{"token": "abc"}}, values)
}

func TestUpgradePipesValuesAsYAML(t *testing.T) {
	run := &fakeRunner{}
	c := newTestClient(run)

	err := c.Upgrade(context.Background(), "platform", "platform/platform", UpgradeOptions{
		Version: "1.2.3",
		Values:  map[string]any{"ingress": map[string]any{"enabled": true}},
		Install: true,
		Wait:    true,
		Timeout: 10 * time.Minute,
	})

	require.NoError(t, err)
	require.Len(t, run.calls, 1)
	args := run.calls[0].args
	assert.Contains(t, args, "--install")
	assert.Contains(t, args, "--wait")
	assert.Contains(t, args, "600s")
	assert.Contains(t, args, "-")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(run.calls[0].stdin, &decoded))
	assert.Equal(t, map[string]any{"ingress": map[string]any{"enabled": true}}, decoded)
}

func TestUpgradeFailure(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("chart not found")}
	c := newTestClient(run)

	err := c.Upgrade(context.Background(), "platform", "platform/platform", UpgradeOptions{})

	assert.ErrorContains(t, err, "upgrading release platform")
}

func TestDeleteAlreadyGone(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("Error: uninstall: Release not loaded: platform: release: not found")}
	c := newTestClient(run)

	err := c.Delete(context.Background(), "platform", DeleteOptions{})

	assert.NoError(t, err)
}

func TestDeleteFailure(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("connection refused")}
	c := newTestClient(run)

	err := c.Delete(context.Background(), "platform", DeleteOptions{Wait: true, Timeout: 5 * time.Minute})

	assert.ErrorContains(t, err, "deleting release platform")
	assert.Contains(t, run.calls[0].args, "--wait")
}

func TestMaskArgsHidesPassword(t *testing.T) {
	masked := maskArgs([]string{"repo", "add", "x", "--password", "hunter2", "--username", "robot"})

	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "*****")
	assert.Contains(t, masked, "robot")
}
