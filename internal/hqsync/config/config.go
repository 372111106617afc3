// Package config is the aggregate configuration surface spec §6
// enumerates, grounded on the teacher's internal/client/config package:
// a JSON-persisted document with a Validate step that accumulates
// errors rather than failing on the first one, plus env var overrides
// read through an injected lookup function (ApplyEnvOverrides). CLI
// flags are bound through viper in cmd/hqsyncd, not in this package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/conflict"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/daemon"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/downloader"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/downloadmgr"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".hq-sync", "config.json")
	DefaultHQDir      = filepath.Join(home, "HQ")
	DefaultLogFile    = filepath.Join(home, ".hq-sync", "logs", "hq-sync.log")
)

// Object holds the object-store connection details shared by the
// Uploader and Downloader/changedetector.
type Object struct {
	BucketName string `json:"bucket_name" mapstructure:"bucket_name"`
	Region     string `json:"region" mapstructure:"region"`
	Endpoint   string `json:"endpoint,omitempty" mapstructure:"endpoint,omitempty"`
}

// Config is the full configuration document spec §6 enumerates: HQ
// identity plus the per-component surfaces it composes.
type Config struct {
	Path   string `json:"-" mapstructure:"config_path"`
	HQDir  string `json:"hq_dir" mapstructure:"hq_dir"`
	UserID string `json:"user_id" mapstructure:"user_id"`

	Object Object `json:"object" mapstructure:"object"`

	Daemon     daemon.Config      `json:"-" mapstructure:"-"`
	Download   downloader.Config  `json:"-" mapstructure:"-"`
	DownloadMgr downloadmgr.Config `json:"-" mapstructure:"-"`
	Conflict   conflict.Config    `json:"-" mapstructure:"-"`

	SyncAgentVersion string `json:"sync_agent_version,omitempty" mapstructure:"sync_agent_version,omitempty"`

	// raw fields mirrored 1:1 from spec §6, persisted as JSON and bound
	// to env vars; applyDefaults (run by Validate) copies them into the
	// component Config structs above.
	PollIntervalMs         int      `json:"poll_interval_ms,omitempty" mapstructure:"poll_interval_ms,omitempty"`
	MaxConcurrentDownloads int      `json:"max_concurrent_downloads,omitempty" mapstructure:"max_concurrent_downloads,omitempty"`
	DeletedFilePolicy      string   `json:"deleted_file_policy,omitempty" mapstructure:"deleted_file_policy,omitempty"`
	TrashDir               string   `json:"trash_dir,omitempty" mapstructure:"trash_dir,omitempty"`
	StateFilePath          string   `json:"state_file_path,omitempty" mapstructure:"state_file_path,omitempty"`
	ExcludePatterns        []string `json:"exclude_patterns,omitempty" mapstructure:"exclude_patterns,omitempty"`
}

// ValidationError accumulates every configuration problem found by
// Validate, per spec §7's "accumulated into a list and returned as a
// single error at construction time".
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %d problem(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate resolves HQDir to an absolute path and checks every
// required field. Returns a *ValidationError (never a bare error) when
// any problem is found.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if c.Path == "" {
		c.Path = DefaultConfigPath
	}

	if c.HQDir == "" {
		verr.add("hq_dir is required")
	} else {
		resolved, err := resolvePath(c.HQDir)
		if err != nil {
			verr.add("hq_dir: %v", err)
		} else {
			c.HQDir = resolved
		}
	}

	if c.UserID == "" {
		verr.add("user_id is required")
	}
	if c.Object.BucketName == "" {
		verr.add("object.bucket_name is required")
	}
	if c.Object.Region == "" {
		verr.add("object.region is required")
	}

	policy := downloader.DeletedFilePolicy(c.DeletedFilePolicy)
	switch policy {
	case "", downloader.PolicyKeep, downloader.PolicyDelete, downloader.PolicyTrash:
	default:
		verr.add("deleted_file_policy: invalid value %q", c.DeletedFilePolicy)
	}
	if policy == downloader.PolicyTrash && c.TrashDir == "" {
		verr.add("trash_dir is required when deleted_file_policy=trash")
	}

	if len(verr.Problems) > 0 {
		return verr
	}

	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	c.Daemon = daemon.Config{
		RootDir:         c.HQDir,
		ExcludePatterns: c.ExcludePatterns,
	}.WithDefaults()

	c.Download = downloader.Config{
		LocalDir:               c.HQDir,
		MaxConcurrentDownloads: c.MaxConcurrentDownloads,
		DeletedFilePolicy:      downloader.DeletedFilePolicy(c.DeletedFilePolicy),
		TrashDir:               c.TrashDir,
		PreserveTimestamps:     true,
	}.WithDefaults()

	c.DownloadMgr = downloadmgr.Config{
		PollIntervalMs: c.PollIntervalMs,
	}.WithDefaults()

	c.Conflict = conflict.Config{}.WithDefaults()

	if c.StateFilePath == "" {
		c.StateFilePath = filepath.Join(c.HQDir, ".hq-sync-state.json")
	}
}

// Save persists the document fields (not the derived component
// Configs) to c.Path via temp-then-rename.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("config: ensure parent dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		return fmt.Errorf("config: rename temp file: %w", err)
	}
	return nil
}

// LoadFromFile reads and unmarshals a Config document from path.
// Returns a zero-value Config (not an error) if the file does not
// exist, matching the teacher's "config file is optional" stance.
func LoadFromFile(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Path: resolved}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", resolved, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", resolved, err)
	}
	cfg.Path = resolved
	return &cfg, nil
}

// ApplyEnvOverrides applies the environment overrides spec §6 names
// (S3_BUCKET_NAME, S3_REGION, HQ_USER_ID, HQ_DIR,
// HQ_DOWNLOAD_POLL_INTERVAL_MS, HQ_DOWNLOAD_MAX_CONCURRENT,
// HQ_DOWNLOAD_DELETED_POLICY, HQ_DOWNLOAD_TRASH_DIR,
// HQ_DOWNLOAD_STATE_FILE, HQ_DOWNLOAD_EXCLUDE) on top of whatever was
// loaded from file or flags, env winning last.
func (c *Config) ApplyEnvOverrides(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup("S3_BUCKET_NAME"); ok {
		c.Object.BucketName = v
	}
	if v, ok := lookup("S3_REGION"); ok {
		c.Object.Region = v
	}
	if v, ok := lookup("HQ_USER_ID"); ok {
		c.UserID = v
	}
	if v, ok := lookup("HQ_DIR"); ok {
		c.HQDir = v
	}
	if v, ok := lookup("HQ_DOWNLOAD_POLL_INTERVAL_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollIntervalMs = n
		}
	}
	if v, ok := lookup("HQ_DOWNLOAD_MAX_CONCURRENT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrentDownloads = n
		}
	}
	if v, ok := lookup("HQ_DOWNLOAD_DELETED_POLICY"); ok {
		c.DeletedFilePolicy = v
	}
	if v, ok := lookup("HQ_DOWNLOAD_TRASH_DIR"); ok {
		c.TrashDir = v
	}
	if v, ok := lookup("HQ_DOWNLOAD_STATE_FILE"); ok {
		c.StateFilePath = v
	}
	if v, ok := lookup("HQ_DOWNLOAD_EXCLUDE"); ok && v != "" {
		c.ExcludePatterns = strings.Split(v, ",")
	}
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = strings.Replace(path, "~", h, 1)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
