// Package helm wraps the helm CLI. Release values are piped to helm on
// stdin as YAML so secrets never touch the filesystem or the process
// argument list.
package helm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const helmBinary = "helm"

// Repo identifies a chart repository, optionally with credentials.
type Repo struct {
	Name     string
	URL      string
	Username string
	Password string
}

// UpgradeOptions controls helm upgrade invocations.
type UpgradeOptions struct {
	Version  string
	Values   map[string]any
	Install  bool
	Wait     bool
	Timeout  time.Duration
	Username string
	Password string
}

// DeleteOptions controls helm delete invocations.
type DeleteOptions struct {
	Wait    bool
	Timeout time.Duration
}

// runner executes an external command, feeding it stdin and capturing both
// output streams. Tests substitute a fake.
type runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- arguments are operator-controlled
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Client drives chart installs through the helm CLI.
type Client struct {
	kubeContext string
	namespace   string
	logger      logr.Logger
	run         runner
}

// NewClient returns a helm client scoped to the given kube context and
// namespace. Empty values fall through to helm's own defaults.
func NewClient(kubeContext, namespace string, logger logr.Logger) *Client {
	return &Client{
		kubeContext: kubeContext,
		namespace:   namespace,
		logger:      logger,
		run:         execRunner{},
	}
}

// globalArgs are appended to every helm invocation.
func (c *Client) globalArgs() []string {
	var args []string
	if c.kubeContext != "" {
		args = append(args, "--kube-context", c.kubeContext)
	}
	if c.namespace != "" {
		args = append(args, "--namespace", c.namespace)
	}
	return args
}

// maskArgs hides the value following any --password flag for logging.
func maskArgs(args []string) []string {
	masked := make([]string, len(args))
	copy(masked, args)
	for i := 0; i < len(masked)-1; i++ {
		if masked[i] == "--password" {
			masked[i+1] = "*****"
		}
	}
	return masked
}

// AddRepo registers a chart repository, overwriting any existing entry
// with the same name.
func (c *Client) AddRepo(ctx context.Context, repo Repo) error {
	args := []string{"repo", "add", repo.Name, repo.URL}
	if repo.Username != "" {
		args = append(args, "--username", repo.Username)
	}
	if repo.Password != "" {
		args = append(args, "--password", repo.Password)
	}
	args = append(args, c.globalArgs()...)
	args = append(args, "--force-update")

	c.logger.Info("running helm repo add", "args", maskArgs(args))
	_, stderr, err := c.run.Run(ctx, nil, helmBinary, args...)
	if err != nil {
		c.logger.Error(err, "failed to add helm repo", "repo", repo.Name, "url", repo.URL, "stderr", strings.TrimSpace(string(stderr)))
		return fmt.Errorf("adding helm repo %s %s: %w", repo.Name, repo.URL, err)
	}
	c.logger.Info("added helm repo", "repo", repo.Name, "url", repo.URL)
	return nil
}

// UpdateRepos refreshes the local chart repository indexes.
func (c *Client) UpdateRepos(ctx context.Context) error {
	args := append([]string{"repo", "update"}, c.globalArgs()...)
	c.logger.Info("running helm repo update")
	_, stderr, err := c.run.Run(ctx, nil, helmBinary, args...)
	if err != nil {
		c.logger.Error(err, "failed to update helm repositories", "stderr", strings.TrimSpace(string(stderr)))
		return fmt.Errorf("updating helm repositories: %w", err)
	}
	return nil
}

// GetRelease looks up a single release by exact name. It returns nil when
// the release does not exist.
func (c *Client) GetRelease(ctx context.Context, releaseName string) (*Release, error) {
	args := append([]string{"list"}, c.globalArgs()...)
	args = append(args, "--filter", fmt.Sprintf("^%s$", releaseName), "--output", "json")

	c.logger.Info("running helm list", "release", releaseName)
	stdout, stderr, err := c.run.Run(ctx, nil, helmBinary, args...)
	if err != nil {
		c.logger.Error(err, "failed to list releases", "stderr", strings.TrimSpace(string(stderr)))
		return nil, fmt.Errorf("listing helm releases: %w", err)
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, nil
	}
	releases, err := parseReleaseList(stdout)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, nil
	}
	return &releases[0], nil
}

// GetReleaseValues returns the user-supplied values of a release, or nil
// when the release does not exist.
func (c *Client) GetReleaseValues(ctx context.Context, releaseName string) (map[string]any, error) {
	args := append([]string{"get", "values", releaseName}, c.globalArgs()...)
	args = append(args, "--output", "json")

	c.logger.Info("running helm get values", "release", releaseName)
	stdout, stderr, err := c.run.Run(ctx, nil, helmBinary, args...)
	if err != nil {
		combined := string(stdout) + string(stderr)
		if strings.Contains(combined, "not found") {
			c.logger.Info("release not found", "release", releaseName)
			return nil, nil
		}
		c.logger.Error(err, "failed to get release values", "stderr", strings.TrimSpace(string(stderr)))
		return nil, fmt.Errorf("getting values for release %s: %w", releaseName, err)
	}
	if len(bytes.TrimSpace(stdout)) == 0 || string(bytes.TrimSpace(stdout)) == "null" {
		return map[string]any{}, nil
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(stdout, &values); err != nil {
		return nil, fmt.Errorf("parsing values for release %s: %w", releaseName, err)
	}
	return values, nil
}

// Upgrade installs or upgrades a release, streaming the values as YAML on
// stdin.
func (c *Client) Upgrade(ctx context.Context, releaseName, chartName string, opts UpgradeOptions) error {
	args := append([]string{"upgrade", releaseName, chartName}, c.globalArgs()...)
	if opts.Version != "" {
		args = append(args, "--version", opts.Version)
	}
	args = append(args, "--values", "-")
	if opts.Install {
		args = append(args, "--install")
	}
	if opts.Wait {
		args = append(args, "--wait")
	}
	if opts.Timeout > 0 {
		args = append(args, "--timeout", fmt.Sprintf("%ds", int(opts.Timeout.Seconds())))
	}
	if opts.Username != "" {
		args = append(args, "--username", opts.Username)
	}
	if opts.Password != "" {
		args = append(args, "--password", opts.Password)
	}

	values := opts.Values
	if values == nil {
		values = map[string]any{}
	}
	valuesYAML, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding values for release %s: %w", releaseName, err)
	}

	c.logger.Info("running helm upgrade", "release", releaseName, "chart", chartName, "args", maskArgs(args))
	_, stderr, err := c.run.Run(ctx, valuesYAML, helmBinary, args...)
	if err != nil {
		c.logger.Error(err, "failed to upgrade helm release", "release", releaseName, "stderr", strings.TrimSpace(string(stderr)))
		return fmt.Errorf("upgrading release %s: %w", releaseName, err)
	}
	c.logger.Info("upgraded helm release", "release", releaseName)
	return nil
}

// Delete uninstalls a release. A release that is already gone counts as
// deleted.
func (c *Client) Delete(ctx context.Context, releaseName string, opts DeleteOptions) error {
	args := append([]string{"delete", releaseName}, c.globalArgs()...)
	if opts.Wait {
		args = append(args, "--wait")
	}
	if opts.Timeout > 0 {
		args = append(args, "--timeout", fmt.Sprintf("%ds", int(opts.Timeout.Seconds())))
	}

	c.logger.Info("running helm delete", "release", releaseName)
	_, stderr, err := c.run.Run(ctx, nil, helmBinary, args...)
	if err != nil {
		if strings.Contains(string(stderr), "not found") {
			c.logger.Info("helm release already deleted", "release", releaseName)
			return nil
		}
		c.logger.Error(err, "failed to delete helm release", "release", releaseName, "stderr", strings.TrimSpace(string(stderr)))
		return fmt.Errorf("deleting release %s: %w", releaseName, err)
	}
	c.logger.Info("deleted helm release", "release", releaseName)
	return nil
}
