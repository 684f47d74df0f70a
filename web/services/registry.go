package services

import (
	"context"
	"sync"

	apperrors "datachat/errors"
	"datachat/gateway"
	"datachat/web/types"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// FileGateway is the slice of the backend gateway the registry needs.
type FileGateway interface {
	ListFiles(ctx context.Context) ([]gateway.FileInfo, error)
	DeleteFile(ctx context.Context, fileID string) error
	GetSchema(ctx context.Context, fileID string) (*gateway.Schema, error)
}

// FileRegistry tracks the set of uploaded datasets and which one is active.
// At most one file is active at a time, possibly none. Schemas are cached per
// file id since they are immutable for the lifetime of an upload.
type FileRegistry struct {
	gw          FileGateway
	logger      *zap.Logger
	schemaCache *lru.Cache

	mu       sync.Mutex
	files    []types.File
	activeID string
}

func NewFileRegistry(gw FileGateway, schemaCacheSize int, logger *zap.Logger) (*FileRegistry, error) {
	if schemaCacheSize <= 0 {
		schemaCacheSize = 32
	}
	cache, err := lru.New(schemaCacheSize)
	if err != nil {
		return nil, apperrors.WrapError(err, "could not create schema cache")
	}
	return &FileRegistry{
		gw:          gw,
		logger:      logger,
		schemaCache: cache,
	}, nil
}

// Refresh replaces the file list with the backend's view. If the active file
// no longer exists on the backend the active selection is cleared.
func (fr *FileRegistry) Refresh(ctx context.Context) error {
	infos, err := fr.gw.ListFiles(ctx)
	if err != nil {
		fr.logger.Error("Failed to list files", zap.Error(err))
		return apperrors.WrapError(err, "could not list files")
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.files = fr.files[:0]
	activeStillExists := false
	for _, info := range infos {
		fr.files = append(fr.files, types.File{
			FileID:   info.FileID,
			Filename: info.Filename,
			RowCount: info.RowCount,
		})
		if info.FileID == fr.activeID {
			activeStillExists = true
		}
	}
	if fr.activeID != "" && !activeStillExists {
		fr.logger.Warn("Active file disappeared from backend, clearing selection",
			zap.String("file_id", fr.activeID))
		fr.activeID = ""
	}
	return nil
}

// Add registers a freshly uploaded file and makes it active.
func (fr *FileRegistry) Add(file types.File) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for i, existing := range fr.files {
		if existing.FileID == file.FileID {
			fr.files[i] = file
			fr.activeID = file.FileID
			return
		}
	}
	fr.files = append(fr.files, file)
	fr.activeID = file.FileID
}

// SetActive selects a file as the active dataset. The file must be known.
func (fr *FileRegistry) SetActive(fileID string) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fileID == "" {
		fr.activeID = ""
		return nil
	}
	for _, f := range fr.files {
		if f.FileID == fileID {
			fr.activeID = fileID
			return nil
		}
	}
	return apperrors.ErrDatasetNotLoaded
}

// Delete removes a file from the backend, then locally. Deleting the active
// file clears the selection.
func (fr *FileRegistry) Delete(ctx context.Context, fileID string) error {
	if err := fr.gw.DeleteFile(ctx, fileID); err != nil {
		fr.logger.Error("Failed to delete file on backend",
			zap.Error(err),
			zap.String("file_id", fileID))
		return apperrors.WrapError(err, "could not delete file")
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	for i, f := range fr.files {
		if f.FileID == fileID {
			fr.files = append(fr.files[:i], fr.files[i+1:]...)
			break
		}
	}
	if fr.activeID == fileID {
		fr.activeID = ""
	}
	fr.schemaCache.Remove(fileID)
	return nil
}

// Files returns a copy of the known files.
func (fr *FileRegistry) Files() []types.File {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	out := make([]types.File, len(fr.files))
	copy(out, fr.files)
	return out
}

// Active returns the active file, if any.
func (fr *FileRegistry) Active() (types.File, bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for _, f := range fr.files {
		if f.FileID == fr.activeID {
			return f, true
		}
	}
	return types.File{}, false
}

// ActiveID returns the active file id, or "" when none is selected.
func (fr *FileRegistry) ActiveID() string {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.activeID
}

// Schema returns the schema for a file, served from the LRU cache when the
// backend has already been asked for it.
func (fr *FileRegistry) Schema(ctx context.Context, fileID string) (*gateway.Schema, error) {
	if cached, ok := fr.schemaCache.Get(fileID); ok {
		return cached.(*gateway.Schema), nil
	}
	schema, err := fr.gw.GetSchema(ctx, fileID)
	if err != nil {
		return nil, apperrors.WrapError(err, "could not load schema")
	}
	fr.schemaCache.Add(fileID, schema)
	return schema, nil
}
