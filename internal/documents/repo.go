package documents

import "context"

// Repo defines persistence operations for documents and their versions.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, documentID string) (Document, error)
	FindByHash(ctx context.Context, tenantID, sha256Hex string) (Document, error)
	// CreateVersion appends version max+1 (1 for the first) for documentID.
	CreateVersion(ctx context.Context, documentID, storageURI string) (Version, error)
	LatestVersion(ctx context.Context, documentID string) (Version, error)
	UpdateVersionResults(ctx context.Context, versionID int64, res Results) error
}
