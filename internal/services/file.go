package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taliaapp/apiserver/internal/storage"
	"github.com/taliaapp/apiserver/internal/store"
	"github.com/taliaapp/apiserver/types"
)

// minRemoteSize guards against ingesting empty or truncated remote objects.
const minRemoteSize = 200

const defaultFetchTimeout = 2 * time.Minute

// FileRepository defines persistence operations for file metadata.
type FileRepository interface {
	Create(ctx context.Context, file types.File) (types.File, error)
	GetByID(ctx context.Context, id int) (types.File, error)
	ListByUser(ctx context.Context, userID int) ([]types.File, error)
	Delete(ctx context.Context, id int) error
}

// ObjectStore defines the object-storage operations the pipeline needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (storage.UploadInfo, error)
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// FileService is the ingestion pipeline: it moves bytes into object storage
// and records matching metadata, keeping the two consistent under partial
// failure. The ordering is fixed: storage write first, metadata commit
// second, best-effort compensating delete when the commit fails.
type FileService struct {
	files    FileRepository
	objects  ObjectStore
	client   *http.Client
	logger   *slog.Logger
	maxBytes int64
	extnames map[string]struct{}
}

func NewFileService(
	files FileRepository,
	objects ObjectStore,
	logger *slog.Logger,
	maxBytes int64,
	extnames []string,
) *FileService {
	allowed := make(map[string]struct{}, len(extnames))
	for _, ext := range extnames {
		allowed[normalizeExt(ext)] = struct{}{}
	}
	return &FileService{
		files:    files,
		objects:  objects,
		client:   &http.Client{Timeout: defaultFetchTimeout},
		logger:   logger,
		maxBytes: maxBytes,
		extnames: allowed,
	}
}

// Upload ingests a direct byte stream. Policy runs before a single byte is
// read: unverified accounts, oversize declarations, and disallowed
// extensions are rejected with zero network calls.
func (s *FileService) Upload(ctx context.Context, user types.User, r io.Reader, size int64, extname, originalName string) (types.File, error) {
	if !CanUpload(user) {
		return types.File{}, ErrNotVerified
	}

	ext := normalizeExt(extname)
	if _, ok := s.extnames[ext]; !ok {
		return types.File{}, ErrUnsupportedType
	}
	if size <= 0 {
		return types.File{}, validationError("file size must be positive")
	}
	if size > s.maxBytes {
		return types.File{}, ErrTooLarge
	}

	contentType := contentTypeForExt(ext)
	key := fmt.Sprintf("tmp/%s.%s", uuid.NewString(), ext)

	guard := newSizeGuard(r, s.maxBytes)
	info, err := s.objects.Put(ctx, key, guard, size, contentType)
	if err != nil {
		// The backend may have created a partial object before failing.
		s.compensate(key)
		if guard.exceeded {
			return types.File{}, ErrTooLarge
		}
		return types.File{}, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return s.commit(ctx, types.File{
		UserID:       user.ID,
		Key:          info.Key,
		Location:     info.Location,
		ContentType:  contentType,
		Size:         size,
		OriginalName: originalName,
		MimeType:     ext,
	})
}

// IngestRemote fetches a URL and pipes the response body straight into
// object storage without buffering the object in memory. The advertised
// content length and content type are validated before the upload starts;
// a lying or absent content length is caught mid-stream by the size guard
// and the partial object is deleted.
func (s *FileService) IngestRemote(ctx context.Context, user types.User, rawURL string) (types.File, error) {
	if !CanUpload(user) {
		return types.File{}, ErrNotVerified
	}

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return types.File{}, validationError("invalid url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return types.File{}, validationError("invalid url")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return types.File{}, fmt.Errorf("%w: fetch %s: %w", ErrStorageFailure, parsed.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.File{}, validationError("remote returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)

	ext, ok := s.extForContentType(contentType)
	if !ok {
		return types.File{}, ErrUnsupportedType
	}

	size := resp.ContentLength
	if size >= 0 {
		if size < minRemoteSize {
			return types.File{}, validationError("remote object is too small")
		}
		if size > s.maxBytes {
			return types.File{}, ErrTooLarge
		}
	}

	key := fmt.Sprintf("tmp/%s.%s", uuid.NewString(), ext)
	guard := newSizeGuard(resp.Body, s.maxBytes)
	info, err := s.objects.Put(ctx, key, guard, size, contentType)
	if err != nil {
		s.compensate(key)
		if guard.exceeded {
			return types.File{}, ErrTooLarge
		}
		return types.File{}, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if size < 0 {
		size = guard.read
	}

	return s.commit(ctx, types.File{
		UserID:       user.ID,
		Key:          info.Key,
		Location:     info.Location,
		ContentType:  contentType,
		Size:         size,
		OriginalName: parsed.Path,
		MimeType:     ext,
	})
}

// Get returns a file's metadata, restricted to its owner.
func (s *FileService) Get(ctx context.Context, user types.User, id int) (types.File, error) {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.File{}, ErrNotFound
		}
		return types.File{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if !CanDeleteFile(user, file) {
		return types.File{}, ErrForbidden
	}
	return file, nil
}

// List returns the caller's files.
func (s *FileService) List(ctx context.Context, user types.User) ([]types.File, error) {
	files, err := s.files.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return files, nil
}

// Destroy removes a file in two phases: the object leaves storage first,
// then the metadata row. Ownership is checked before either side effect.
func (s *FileService) Destroy(ctx context.Context, user types.User, id int) error {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if !CanDeleteFile(user, file) {
		return ErrForbidden
	}

	if err := s.objects.Delete(ctx, file.Key); err != nil {
		return fmt.Errorf("%w: delete object %s: %w", ErrStorageFailure, file.Key, err)
	}
	if err := s.files.Delete(ctx, file.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		s.logger.Error("file row outlived its object", "file_id", file.ID, "key", file.Key, "err", err)
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return nil
}

// commit persists the metadata row for an object that is already in storage.
// A failed commit triggers the compensating delete so the object does not
// outlive the failure.
func (s *FileService) commit(ctx context.Context, file types.File) (types.File, error) {
	created, err := s.files.Create(ctx, file)
	if err != nil {
		s.compensate(file.Key)
		if errors.Is(err, store.ErrConflict) {
			return types.File{}, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return types.File{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return created, nil
}

// compensate best-effort deletes an object whose metadata never committed.
// Failures are logged, not returned: raising them would mask the primary
// error that got us here.
func (s *FileService) compensate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.objects.Delete(ctx, key); err != nil {
		s.logger.Error("compensating delete failed, object orphaned", "key", key, "err", err)
	}
}

func (s *FileService) extForContentType(contentType string) (string, bool) {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil {
		return "", false
	}
	for _, candidate := range exts {
		ext := normalizeExt(candidate)
		if _, ok := s.extnames[ext]; ok {
			return ext, true
		}
	}
	return "", false
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func contentTypeForExt(ext string) string {
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ExtFromName returns the normalized extension of a filename.
func ExtFromName(name string) string {
	return normalizeExt(path.Ext(name))
}

// sizeGuard fails the stream once more than max bytes pass through, so a
// dishonest content length cannot push an oversize object into storage.
type sizeGuard struct {
	r        io.Reader
	max      int64
	read     int64
	exceeded bool
}

func newSizeGuard(r io.Reader, max int64) *sizeGuard {
	return &sizeGuard{r: r, max: max}
}

func (g *sizeGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	g.read += int64(n)
	if g.read > g.max {
		g.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}
