// Package documents is the client for the server-side document store: typed
// JSON blobs addressable by id or by a caller-chosen unique key. Every
// operation is a POST to a store endpoint and runs through the executor so
// workflows can persist and query documents deterministically.
package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xiansaiplatform/sdk-go/runtime/executor"
	"github.com/xiansaiplatform/sdk-go/runtime/telemetry"
	"github.com/xiansaiplatform/sdk-go/runtime/transport"
)

const (
	savePath       = "/api/agent/documents/save"
	getPath        = "/api/agent/documents/get"
	getByKeyPath   = "/api/agent/documents/get-by-key"
	queryPath      = "/api/agent/documents/query"
	updatePath     = "/api/agent/documents/update"
	deletePath     = "/api/agent/documents/delete"
	deleteManyPath = "/api/agent/documents/delete-many"
	existsPath     = "/api/agent/documents/exists"
)

// Executor dispatch names for the document operations.
const (
	opSave       = "documents.save"
	opGet        = "documents.get"
	opGetByKey   = "documents.getByKey"
	opQuery      = "documents.query"
	opUpdate     = "documents.update"
	opDelete     = "documents.delete"
	opDeleteMany = "documents.deleteMany"
	opExists     = "documents.exists"
)

type (
	// Document is one stored record. Content is kept raw so callers decide
	// the schema per Type.
	Document struct {
		// ID is assigned by the store on save.
		ID string `json:"id,omitempty"`
		// Type groups documents of one schema.
		Type string `json:"type"`
		// Key optionally addresses the document uniquely within its type.
		Key string `json:"key,omitempty"`
		// Content is the document body.
		Content json.RawMessage `json:"content"`
		// Metadata carries queryable string attributes.
		Metadata map[string]string `json:"metadata,omitempty"`
		// TenantID is the owning tenant; defaults to the caller identity.
		TenantID  string    `json:"tenantId,omitempty"`
		CreatedAt time.Time `json:"createdAt,omitempty"`
		UpdatedAt time.Time `json:"updatedAt,omitempty"`
	}

	// Query selects documents of one type, optionally filtered by metadata,
	// with page-based pagination.
	Query struct {
		Type     string            `json:"type"`
		Metadata map[string]string `json:"metadata,omitempty"`
		TenantID string            `json:"tenantId,omitempty"`
		Page     int               `json:"page,omitempty"`
		PageSize int               `json:"pageSize,omitempty"`
	}

	// Options configures the store client.
	Options struct {
		// Transport is the authenticated server client. Required.
		Transport *transport.Client
		// Registry receives the executor operations. Optional for pure
		// client processes.
		Registry *executor.Registry
		// Logger reports lookups. Optional.
		Logger telemetry.Logger
	}

	// Store is the executor-routed document API.
	Store struct {
		transport *transport.Client
		logger    telemetry.Logger
	}

	keyRequest struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}

	idRequest struct {
		ID string `json:"id"`
	}

	idsRequest struct {
		IDs []string `json:"ids"`
	}

	existsResponse struct {
		Exists bool `json:"exists"`
	}

	deleteManyResponse struct {
		DeletedCount int `json:"deletedCount"`
	}
)

// New constructs the store client and registers its executor operations.
func New(opts Options) (*Store, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("documents: transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Store{transport: opts.Transport, logger: logger}
	if opts.Registry != nil {
		for op, fn := range map[string]any{
			opSave:       s.save,
			opGet:        s.get,
			opGetByKey:   s.getByKey,
			opQuery:      s.query,
			opUpdate:     s.update,
			opDelete:     s.delete,
			opDeleteMany: s.deleteMany,
			opExists:     s.exists,
		} {
			if err := opts.Registry.Register(op, fn); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Save stores a new document and returns it with the assigned id.
func (s *Store) Save(sc executor.Scope, doc Document) (*Document, error) {
	return executor.Execute(sc, opSave, doc, s.save)
}

// Get returns the document by id, or nil when it does not exist.
func (s *Store) Get(sc executor.Scope, id string) (*Document, error) {
	return executor.Execute(sc, opGet, idRequest{ID: id}, s.get)
}

// GetByKey returns the document addressed by (type, key), or nil.
func (s *Store) GetByKey(sc executor.Scope, docType, key string) (*Document, error) {
	return executor.Execute(sc, opGetByKey, keyRequest{Type: docType, Key: key}, s.getByKey)
}

// QueryDocuments returns the documents matching the query page.
func (s *Store) QueryDocuments(sc executor.Scope, q Query) ([]Document, error) {
	return executor.Execute(sc, opQuery, q, s.query)
}

// Update replaces an existing document's content and metadata.
func (s *Store) Update(sc executor.Scope, doc Document) (*Document, error) {
	return executor.Execute(sc, opUpdate, doc, s.update)
}

// Delete removes the document, reporting false when it did not exist.
func (s *Store) Delete(sc executor.Scope, id string) (bool, error) {
	return executor.Execute(sc, opDelete, idRequest{ID: id}, s.delete)
}

// DeleteMany removes a batch of documents, returning how many existed.
func (s *Store) DeleteMany(sc executor.Scope, ids []string) (int, error) {
	return executor.Execute(sc, opDeleteMany, idsRequest{IDs: ids}, s.deleteMany)
}

// Exists reports whether a document with (type, key) exists.
func (s *Store) Exists(sc executor.Scope, docType, key string) (bool, error) {
	return executor.Execute(sc, opExists, keyRequest{Type: docType, Key: key}, s.exists)
}

func (s *Store) save(ctx context.Context, doc Document) (*Document, error) {
	if err := validateType(doc.Type); err != nil {
		return nil, err
	}
	var out Document
	if _, err := s.client(doc.TenantID).PostJSON(ctx, savePath, doc, &out); err != nil {
		return nil, fmt.Errorf("documents: save %s: %w", doc.Type, err)
	}
	return &out, nil
}

func (s *Store) get(ctx context.Context, req idRequest) (*Document, error) {
	var out Document
	found, err := s.transport.PostJSON(ctx, getPath, req, &out)
	if err != nil {
		return nil, fmt.Errorf("documents: get %s: %w", req.ID, err)
	}
	if !found {
		return nil, nil
	}
	return &out, nil
}

func (s *Store) getByKey(ctx context.Context, req keyRequest) (*Document, error) {
	if err := validateType(req.Type); err != nil {
		return nil, err
	}
	var out Document
	found, err := s.transport.PostJSON(ctx, getByKeyPath, req, &out)
	if err != nil {
		return nil, fmt.Errorf("documents: get %s/%s: %w", req.Type, req.Key, err)
	}
	if !found {
		s.logger.Debug(ctx, "document not found", "type", req.Type, "key", req.Key)
		return nil, nil
	}
	return &out, nil
}

func (s *Store) query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateType(q.Type); err != nil {
		return nil, err
	}
	var out []Document
	if _, err := s.client(q.TenantID).PostJSON(ctx, queryPath, q, &out); err != nil {
		return nil, fmt.Errorf("documents: query %s: %w", q.Type, err)
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, doc Document) (*Document, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("documents: update requires an id")
	}
	var out Document
	found, err := s.client(doc.TenantID).PostJSON(ctx, updatePath, doc, &out)
	if err != nil {
		return nil, fmt.Errorf("documents: update %s: %w", doc.ID, err)
	}
	if !found {
		return nil, fmt.Errorf("documents: update %s: document not found", doc.ID)
	}
	return &out, nil
}

func (s *Store) delete(ctx context.Context, req idRequest) (bool, error) {
	deleted, err := s.transport.PostJSON(ctx, deletePath, req, nil)
	if err != nil {
		return false, fmt.Errorf("documents: delete %s: %w", req.ID, err)
	}
	return deleted, nil
}

func (s *Store) deleteMany(ctx context.Context, req idsRequest) (int, error) {
	if len(req.IDs) == 0 {
		return 0, nil
	}
	var out deleteManyResponse
	if _, err := s.transport.PostJSON(ctx, deleteManyPath, req, &out); err != nil {
		return 0, fmt.Errorf("documents: delete %d documents: %w", len(req.IDs), err)
	}
	return out.DeletedCount, nil
}

func (s *Store) exists(ctx context.Context, req keyRequest) (bool, error) {
	if err := validateType(req.Type); err != nil {
		return false, err
	}
	var out existsResponse
	found, err := s.transport.PostJSON(ctx, existsPath, req, &out)
	if err != nil {
		return false, fmt.Errorf("documents: exists %s/%s: %w", req.Type, req.Key, err)
	}
	return found && out.Exists, nil
}

// client narrows the transport to an explicit tenant when one is set on the
// request.
func (s *Store) client(tenant string) *transport.Client {
	if tenant != "" && tenant != s.transport.Tenant() {
		return s.transport.Scoped(tenant)
	}
	return s.transport
}

func validateType(docType string) error {
	if strings.TrimSpace(docType) == "" {
		return fmt.Errorf("documents: type is required")
	}
	return nil
}
