package documents

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu       sync.RWMutex
	docs     map[string]Document
	byHash   map[string]string // tenant|sha -> document id
	versions map[string][]Version
	nextID   int64
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		docs:     make(map[string]Document),
		byHash:   make(map[string]string),
		versions: make(map[string][]Version),
	}
}

func hashKey(tenantID, sha string) string {
	return tenantID + "|" + strings.ToLower(sha)
}

// Create stores doc; a second document with the same tenant and hash is rejected.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hashKey(doc.TenantID, doc.SHA256)
	if _, ok := r.byHash[key]; ok {
		return ErrDuplicate
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	r.docs[doc.ID] = doc
	r.byHash[key] = doc.ID
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (r *MemoryRepo) FindByHash(ctx context.Context, tenantID, sha256Hex string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[hashKey(tenantID, sha256Hex)]
	if !ok {
		return Document{}, ErrNotFound
	}
	return r.docs[id], nil
}

func (r *MemoryRepo) CreateVersion(ctx context.Context, documentID, storageURI string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[documentID]; !ok {
		return Version{}, ErrNotFound
	}
	r.nextID++
	existing := r.versions[documentID]
	v := Version{
		ID:         r.nextID,
		DocumentID: documentID,
		Version:    len(existing) + 1,
		StorageURI: storageURI,
		CreatedAt:  time.Now().UTC(),
	}
	r.versions[documentID] = append(existing, v)
	return v, nil
}

func (r *MemoryRepo) LatestVersion(ctx context.Context, documentID string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return Version{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs := r.versions[documentID]
	if len(vs) == 0 {
		return Version{}, ErrNotFound
	}
	return cloneVersion(vs[len(vs)-1]), nil
}

func (r *MemoryRepo) UpdateVersionResults(ctx context.Context, versionID int64, res Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for docID, vs := range r.versions {
		for i := range vs {
			if vs[i].ID != versionID {
				continue
			}
			vs[i].OCRTextURI = res.OCRTextURI
			vs[i].Metrics = maps.Clone(res.Metrics)
			vs[i].Warnings = slices.Clone(res.Warnings)
			r.versions[docID] = vs
			return nil
		}
	}
	return ErrNotFound
}

// DeleteVersions drops every version of a document. Tests use it to simulate
// a job whose version row disappeared.
func (r *MemoryRepo) DeleteVersions(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.versions, documentID)
}

func cloneVersion(v Version) Version {
	v.Metrics = maps.Clone(v.Metrics)
	v.Warnings = slices.Clone(v.Warnings)
	return v
}

var _ Repo = (*MemoryRepo)(nil)
