// Package artifact persists job artifacts behind scheme-prefixed URIs and
// degrades from the remote object store to local storage when needed.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/retry"
	"github.com/book-expert/logger"
)

// URI schemes.
const (
	SchemeNATS  = "nats"
	SchemeLocal = "local"
	SchemeFile  = "file"
)

const (
	keyPrefix          = "audios/"
	segmentKeyFormat   = "audios/%s/segments/segment_%d.%s"
	wholeFileKeyFormat = "audios/%s.%s"
)

var (
	// ErrUnsupportedScheme reports a URI this store cannot resolve.
	ErrUnsupportedScheme = errors.New("unsupported artifact uri")
	// ErrBackendMissing reports a URI whose backend is not configured.
	ErrBackendMissing = errors.New("artifact backend not configured")
)

// Remote is the object store used as the primary backend.
type Remote interface {
	core.ObjectStore
	UploadFrom(ctx context.Context, key string, reader io.Reader) error
	Bucket() string
}

// Key returns the storage key of an artifact.
func Key(key core.ArtifactKey) string {
	if key.Segment < 0 {
		return fmt.Sprintf(wholeFileKeyFormat, key.Base, key.Ext)
	}

	return fmt.Sprintf(segmentKeyFormat, key.Base, key.Segment, key.Ext)
}

// Store dispatches artifact operations on the URI scheme.
type Store struct {
	remote Remote
	local  *LocalStore
	policy retry.Policy
	log    *logger.Logger
}

// New creates a store. remote and local may each be nil.
func New(remote Remote, local *LocalStore, policy retry.Policy, log *logger.Logger) *Store {
	return &Store{remote: remote, local: local, policy: policy, log: log}
}

// Session starts the uploads of one job.
func (s *Store) Session(jobID string) core.ArtifactUploader {
	return &session{store: s, jobID: jobID}
}

type location struct {
	scheme string
	bucket string
	key    string
}

// uriOf escapes key into the path of a scheme URI so that parseURI returns it
// unchanged whatever characters the key holds.
func uriOf(scheme, host, key string) string {
	return (&url.URL{Scheme: scheme, Host: host, Path: "/" + strings.TrimPrefix(key, "/")}).String()
}

func parseURI(uri string) (location, error) {
	parsed, parseErr := url.Parse(uri)
	if parseErr != nil {
		return location{}, fmt.Errorf("%w: %q: %w", ErrUnsupportedScheme, uri, parseErr)
	}

	switch parsed.Scheme {
	case SchemeNATS:
		return location{scheme: SchemeNATS, bucket: parsed.Host, key: strings.TrimPrefix(parsed.Path, "/")}, nil
	case SchemeLocal:
		// local://audios/x.mp3 puts the first key element in the host.
		return location{scheme: SchemeLocal, key: strings.TrimPrefix(parsed.Host+parsed.Path, "/")}, nil
	case SchemeFile:
		return location{scheme: SchemeFile, key: parsed.Path}, nil
	default:
		return location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}
}

// Download returns the bytes of the artifact at uri.
func (s *Store) Download(ctx context.Context, uri string) ([]byte, error) {
	loc, parseErr := parseURI(uri)
	if parseErr != nil {
		return nil, parseErr
	}

	switch loc.scheme {
	case SchemeNATS:
		remoteErr := s.checkRemote(loc)
		if remoteErr != nil {
			return nil, remoteErr
		}

		return s.remote.Download(ctx, loc.key)
	case SchemeLocal:
		if s.local == nil {
			return nil, fmt.Errorf("%w: local", ErrBackendMissing)
		}

		return s.local.Read(loc.key)
	default:
		data, readErr := os.ReadFile(loc.key)
		if os.IsNotExist(readErr) {
			return nil, fmt.Errorf("file artifact %s: %w", loc.key, core.ErrNotFound)
		}

		return data, readErr
	}
}

// Delete removes the artifact at uri.
func (s *Store) Delete(ctx context.Context, uri string) error {
	loc, parseErr := parseURI(uri)
	if parseErr != nil {
		return parseErr
	}

	switch loc.scheme {
	case SchemeNATS:
		remoteErr := s.checkRemote(loc)
		if remoteErr != nil {
			return remoteErr
		}

		return s.remote.Delete(ctx, loc.key)
	case SchemeLocal:
		if s.local == nil {
			return fmt.Errorf("%w: local", ErrBackendMissing)
		}

		return s.local.Remove(loc.key)
	default:
		removeErr := os.Remove(loc.key)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("remove file artifact %s: %w", loc.key, removeErr)
		}

		return nil
	}
}

func (s *Store) checkRemote(loc location) error {
	if s.remote == nil {
		return fmt.Errorf("%w: nats", ErrBackendMissing)
	}

	if loc.bucket != s.remote.Bucket() {
		return fmt.Errorf("%w: bucket %q is not %q", ErrBackendMissing, loc.bucket, s.remote.Bucket())
	}

	return nil
}

func (s *Store) uploadRemote(ctx context.Context, key, localPath string) error {
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		file, openErr := os.Open(localPath)
		if openErr != nil {
			return retry.Permanent(openErr)
		}
		defer file.Close()

		return s.remote.UploadFrom(ctx, key, file)
	})
}
