package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/blob"
	"github.com/JakeFAU/depfollow/internal/follower"
	"github.com/JakeFAU/depfollow/internal/hash/sha256"
)

// DefaultManifestPrefix is the object prefix used when none is configured.
const DefaultManifestPrefix = "manifests"

// Object metadata keys written with every manifest. A replay overwrites the
// object, so the sequence tells which change wrote the current copy.
const (
	MetadataPackage  = "package"
	MetadataVersion  = "version"
	MetadataSequence = "sequence"
)

// Manifest is the artifact written for one package version.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Sequence     int64             `json:"sequence"`
	Dependencies map[string]string `json:"dependencies"`
	// DependenciesSHA256 digests the canonical dependencies JSON so consumers
	// can spot versions that share a dependency set.
	DependenciesSHA256 string `json:"dependencies_sha256"`
}

// Fingerprinter digests a dependency set.
type Fingerprinter interface {
	Fingerprint(deps map[string]string) (string, error)
}

// ManifestJob writes a JSON manifest per task to a blob store.
type ManifestJob struct {
	store         blob.Store
	fingerprinter Fingerprinter
	prefix        string
	logger        *zap.Logger
}

var _ follower.Job = (*ManifestJob)(nil)

// NewManifestJob returns a job writing under prefix.
func NewManifestJob(store blob.Store, prefix string, logger *zap.Logger) (*ManifestJob, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultManifestPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestJob{store: store, fingerprinter: sha256.New(), prefix: prefix, logger: logger}, nil
}

// ManifestPath returns the object path for name@version. Both segments are
// key-encoded so scoped names stay a single path component.
func ManifestPath(prefix, name, version string) string {
	return prefix + "/" + follower.EncodeKey(name, version) + ".json"
}

// Run writes the manifest, overwriting any previous copy.
func (j *ManifestJob) Run(ctx context.Context, task follower.Task) error {
	deps := task.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	digest, err := j.fingerprinter.Fingerprint(deps)
	if err != nil {
		return fmt.Errorf("hash dependencies: %w", err)
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Manifest{
		Name:               task.Package,
		Version:            task.Version,
		Sequence:           task.Sequence,
		Dependencies:       deps,
		DependenciesSHA256: digest,
	}); err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := ManifestPath(j.prefix, task.Package, task.Version)
	uri, err := j.store.PutObject(ctx, path, &body, blob.Attrs{
		ContentType: "application/json",
		Metadata: map[string]string{
			MetadataPackage:  task.Package,
			MetadataVersion:  task.Version,
			MetadataSequence: strconv.FormatInt(task.Sequence, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	j.logger.Debug("manifest written",
		zap.String("package", task.Package),
		zap.String("version", task.Version),
		zap.String("uri", uri),
	)
	return nil
}
