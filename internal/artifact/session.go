package artifact

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/book-expert/audiobook-tts/internal/core"
)

// session uploads the artifacts of one job. Once the remote backend is missing
// or has failed, every later upload of the job goes to local storage.
type session struct {
	store *Store
	jobID string

	mu       sync.Mutex
	degraded bool
	retained []string
}

func (s *session) Upload(ctx context.Context, key core.ArtifactKey, localPath string) string {
	objectKey := Key(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.degraded {
		if s.store.remote != nil {
			uploadErr := s.store.uploadRemote(ctx, objectKey, localPath)
			if uploadErr == nil {
				return uriOf(SchemeNATS, s.store.remote.Bucket(), objectKey)
			}

			s.store.log.Warn("Job %s: remote upload of %s failed, using local storage for the rest of the job: %v",
				s.jobID, objectKey, uploadErr)
		} else {
			s.store.log.Warn("Job %s: remote storage not configured, using local storage", s.jobID)
		}

		s.degraded = true
	}

	if s.store.local != nil {
		saveErr := s.store.local.Save(objectKey, localPath)
		if saveErr == nil {
			return uriOf(SchemeLocal, "", objectKey)
		}

		s.store.log.Warn("Job %s: local storage of %s failed: %v", s.jobID, objectKey, saveErr)
	}

	absolute, absErr := filepath.Abs(localPath)
	if absErr != nil {
		absolute = localPath
	}

	s.store.log.Warn("Job %s: %s kept in place at %s", s.jobID, objectKey, absolute)
	s.retained = append(s.retained, absolute)

	return uriOf(SchemeFile, "", absolute)
}

func (s *session) Retained() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.retained...)
}
