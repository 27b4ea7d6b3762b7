package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/events"
	"github.com/ironlayer/ironlayer/pkg/gitsource"
	"github.com/ironlayer/ironlayer/pkg/loader"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// loadModelsAt reads every .sql file at rev and materialises the resolved
// model set. Contents come back from the collaborator as untrusted bytes;
// the loader owns header validation and ref resolution.
func (e *Engine) loadModelsAt(ctx context.Context, src gitsource.Source, rev string) (*loader.Result, error) {
	paths, err := src.ListSQLFilesAt(ctx, rev)
	if err != nil {
		return nil, err
	}
	files := make([]loader.File, 0, len(paths))
	for _, p := range paths {
		content, err := src.ReadFileAt(ctx, rev, p)
		if err != nil {
			return nil, err
		}
		files = append(files, loader.File{Path: p, Content: string(content)})
	}
	return loader.Load(files, rev, e.dialect)
}

// RegisterModels loads raw model files, resolves refs, and upserts the
// resulting definitions into the tenant registry.
func (e *Engine) RegisterModels(ctx context.Context, files []loader.File, revision string) ([]*types.ModelDefinition, error) {
	id, err := e.require(ctx, auth.PermModelManage)
	if err != nil {
		return nil, err
	}
	result, err := loader.Load(files, revision, e.dialect)
	if err != nil {
		return nil, err
	}
	for _, m := range result.Models {
		if err := e.store.UpsertModel(ctx, id.TenantID, m); err != nil {
			return nil, err
		}
	}
	if err := e.record(ctx, id, "MODELS_REGISTERED", "model_set", revision, map[string]string{
		"models": strconv.Itoa(len(result.Models)),
	}); err != nil {
		return nil, err
	}
	e.meterUsage(id.TenantID, types.UsageModelLoaded, float64(len(result.Models)), map[string]string{"revision": revision})
	e.publish(ctx, events.EventModelRegistered, id.TenantID, map[string]string{
		"revision": revision,
		"models":   strconv.Itoa(len(result.Models)),
	})
	return result.Models, nil
}

// ListModels returns every registered definition for the caller's tenant.
func (e *Engine) ListModels(ctx context.Context) ([]*types.ModelDefinition, error) {
	id, err := e.require(ctx, auth.PermModelRead)
	if err != nil {
		return nil, err
	}
	return e.store.ListModels(ctx, id.TenantID)
}

// SearchModels returns definitions whose name contains the term. The
// term is treated as a literal substring, never as a pattern.
func (e *Engine) SearchModels(ctx context.Context, term string) ([]*types.ModelDefinition, error) {
	id, err := e.require(ctx, auth.PermModelRead)
	if err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errdefs.Validationf("search term is required")
	}
	return e.store.SearchModels(ctx, id.TenantID, term)
}

// GetModel returns one definition by canonical name.
func (e *Engine) GetModel(ctx context.Context, name string) (*types.ModelDefinition, error) {
	id, err := e.require(ctx, auth.PermModelRead)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errdefs.Validationf("model name is required")
	}
	return e.store.GetModel(ctx, id.TenantID, name)
}
