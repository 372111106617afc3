package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// CLIConfig configures a CLIStore.
type CLIConfig struct {
	Bucket     string
	BinaryPath string // defaults to "aws" on PATH
	Endpoint   string // optional S3-compatible endpoint, passed as --endpoint-url
}

// CLIStore implements Store by shelling out to the AWS CLI, the fallback
// the object-store abstraction must offer per spec §6 when the SDK path
// is unavailable (e.g. a minimal container image without CGO-linked SDK
// dependencies, or an environment where only the CLI is provisioned).
type CLIStore struct {
	cfg CLIConfig
}

// NewCLIStore creates a CLIStore. BinaryPath defaults to "aws".
func NewCLIStore(cfg CLIConfig) *CLIStore {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "aws"
	}
	return &CLIStore{cfg: cfg}
}

func (c *CLIStore) baseArgs() []string {
	args := []string{"s3api"}
	if c.cfg.Endpoint != "" {
		args = append(args, "--endpoint-url", c.cfg.Endpoint)
	}
	return args
}

func (c *CLIStore) run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	full := append(c.baseArgs(), args...)
	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, full...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("objectstore: %s %s: %w: %s", c.cfg.BinaryPath, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *CLIStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, contentType string) (PutResult, error) {
	tmp, err := spillToTempFile(body)
	if err != nil {
		return PutResult{}, err
	}
	defer os.Remove(tmp)

	args := []string{"put-object", "--bucket", c.cfg.Bucket, "--key", key, "--body", tmp}
	if contentType != "" {
		args = append(args, "--content-type", contentType)
	}
	if len(metadata) > 0 {
		args = append(args, "--metadata", encodeMetadata(metadata))
	}

	out, err := c.run(ctx, nil, args...)
	if err != nil {
		return PutResult{}, err
	}

	var resp struct {
		ETag      string `json:"ETag"`
		VersionID string `json:"VersionId"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return PutResult{}, fmt.Errorf("objectstore: parse put-object response for %s: %w", key, err)
	}
	return PutResult{ETag: strings.Trim(resp.ETag, `"`), VersionID: resp.VersionID}, nil
}

// MultipartPut shells out to "aws s3 cp", which handles multipart
// upload internally above the CLI's own size threshold; the CLI does not
// expose per-part control the way the SDK does, so partSize is advisory
// only here.
func (c *CLIStore) MultipartPut(ctx context.Context, key string, body io.Reader, size int64, partSize int64, metadata map[string]string, contentType string, progress ProgressFunc) (PutResult, error) {
	tmp, err := spillToTempFile(body)
	if err != nil {
		return PutResult{}, err
	}
	defer os.Remove(tmp)

	dest := fmt.Sprintf("s3://%s/%s", c.cfg.Bucket, key)
	args := []string{"cp", tmp, dest}
	if contentType != "" {
		args = append(args, "--content-type", contentType)
	}

	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, args...)
	if c.cfg.Endpoint != "" {
		cmd.Args = append(cmd.Args, "--endpoint-url", c.cfg.Endpoint)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return PutResult{}, fmt.Errorf("objectstore: aws s3 cp %s: %w: %s", dest, err, stderr.String())
	}
	if progress != nil {
		progress(size, size)
	}

	return c.headForETag(ctx, key)
}

func (c *CLIStore) headForETag(ctx context.Context, key string) (PutResult, error) {
	out, err := c.run(ctx, nil, "head-object", "--bucket", c.cfg.Bucket, "--key", key)
	if err != nil {
		return PutResult{}, err
	}
	var resp struct {
		ETag      string `json:"ETag"`
		VersionID string `json:"VersionId"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return PutResult{}, fmt.Errorf("objectstore: parse head-object response for %s: %w", key, err)
	}
	return PutResult{ETag: strings.Trim(resp.ETag, `"`), VersionID: resp.VersionID}, nil
}

func (c *CLIStore) DeleteObject(ctx context.Context, key string) error {
	_, err := c.run(ctx, nil, "delete-object", "--bucket", c.cfg.Bucket, "--key", key)
	return err
}

func (c *CLIStore) ListObjectsV2(ctx context.Context, prefix string, continuationToken string) (ListPage, error) {
	args := []string{"list-objects-v2", "--bucket", c.cfg.Bucket, "--prefix", prefix}
	if continuationToken != "" {
		args = append(args, "--continuation-token", continuationToken)
	}

	out, err := c.run(ctx, nil, args...)
	if err != nil {
		return ListPage{}, err
	}

	var resp struct {
		Contents []struct {
			Key          string `json:"Key"`
			ETag         string `json:"ETag"`
			Size         int64  `json:"Size"`
			LastModified string `json:"LastModified"`
		} `json:"Contents"`
		NextContinuationToken string `json:"NextContinuationToken"`
		IsTruncated           bool   `json:"IsTruncated"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return ListPage{}, fmt.Errorf("objectstore: parse list-objects-v2 response for %s: %w", prefix, err)
	}

	page := ListPage{}
	for _, item := range resp.Contents {
		page.Items = append(page.Items, ListedItem{
			Key:       item.Key,
			SizeBytes: item.Size,
			ETag:      strings.Trim(item.ETag, `"`),
		})
	}
	if resp.IsTruncated {
		page.NextToken = resp.NextContinuationToken
	}
	return page, nil
}

func (c *CLIStore) GetObject(ctx context.Context, key string) (GetObjectResult, error) {
	tmp, err := os.CreateTemp("", "hq-cli-get-*")
	if err != nil {
		return GetObjectResult{}, fmt.Errorf("objectstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	out, err := c.run(ctx, nil, "get-object", "--bucket", c.cfg.Bucket, "--key", key, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return GetObjectResult{}, err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return GetObjectResult{}, fmt.Errorf("objectstore: open downloaded temp file for %s: %w", key, err)
	}
	info, _ := f.Stat()

	var meta struct {
		ETag string `json:"ETag"`
	}
	_ = json.Unmarshal(out, &meta)

	return GetObjectResult{
		Body:      &removeOnCloseFile{File: f, path: tmpPath},
		SizeBytes: info.Size(),
		ETag:      strings.Trim(meta.ETag, `"`),
	}, nil
}

// removeOnCloseFile deletes its backing temp file once closed, since
// get-object writes the response body to disk rather than streaming it.
type removeOnCloseFile struct {
	*os.File
	path string
}

func (r *removeOnCloseFile) Close() error {
	err := r.File.Close()
	os.Remove(r.path)
	return err
}

func spillToTempFile(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "hq-cli-put-*")
	if err != nil {
		return "", fmt.Errorf("objectstore: create temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, r); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("objectstore: spill body to temp file: %w", err)
	}
	return tmp.Name(), nil
}

func encodeMetadata(metadata map[string]string) string {
	data, _ := json.Marshal(metadata)
	return string(data)
}

var _ Store = (*CLIStore)(nil)
