package flowreg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"botflow/internal/db"
	"botflow/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

//go:embed schema.json
var flowSchemaJSON []byte

// Registry loads, validates and caches flow definitions. Definitions
// are immutable per version; Invalidate drops the cached copy after an
// authoring update.
type Registry struct {
	queries *db.Queries
	schema  *js.Schema
	cache   *expirable.LRU[string, *model.FlowDefinition]
	log     *zap.Logger
}

func NewRegistry(queries *db.Queries, log *zap.Logger) (*Registry, error) {
	compiler := js.NewCompiler()
	if err := compiler.AddResource("mem://flow-definition.json", bytes.NewReader(flowSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add flow schema resource: %w", err)
	}
	schema, err := compiler.Compile("mem://flow-definition.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile flow schema: %w", err)
	}
	return &Registry{
		queries: queries,
		schema:  schema,
		cache:   expirable.NewLRU[string, *model.FlowDefinition](128, nil, time.Hour),
		log:     log,
	}, nil
}

// Definition returns the parsed flow definition for flowID, from cache
// or storage. Implements the engine's Flows interface.
func (r *Registry) Definition(ctx context.Context, flowID string) (*model.FlowDefinition, error) {
	if flow, ok := r.cache.Get(flowID); ok {
		return flow, nil
	}
	row, err := r.queries.GetFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("flow %s not found: %w", flowID, err)
	}
	flow, err := r.Parse(row.Definition)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", flowID, err)
	}
	flow.ID = row.ID
	flow.CompanyID = row.CompanyID
	flow.Name = row.Name
	r.cache.Add(flowID, flow)
	return flow, nil
}

// Parse validates a raw definition document and decodes it
func (r *Registry) Parse(raw []byte) (*model.FlowDefinition, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("definition is not valid JSON: %w", err)
	}
	if err := r.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("definition rejected by schema: %w", err)
	}

	var flow model.FlowDefinition
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}

	// the schema cannot count node types; enforce the start invariant here
	starts := 0
	for _, n := range flow.Nodes {
		if n.Type == model.NodeStart {
			starts++
		}
	}
	if starts > 1 {
		return nil, fmt.Errorf("definition has %d start nodes, at most one allowed", starts)
	}
	return &flow, nil
}

// Save validates and persists a definition, then drops the cached copy
func (r *Registry) Save(ctx context.Context, id string, companyID int64, name string, raw []byte) (*model.FlowDefinition, error) {
	flow, err := r.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := r.queries.UpsertFlow(ctx, id, companyID, name, raw); err != nil {
		return nil, fmt.Errorf("failed to save flow %s: %w", id, err)
	}
	flow.ID = id
	flow.CompanyID = companyID
	flow.Name = name
	r.cache.Remove(id)
	r.log.Info("flow definition saved", zap.String("flowId", id), zap.Int64("companyId", companyID))
	return flow, nil
}

// Invalidate drops a cached definition
func (r *Registry) Invalidate(flowID string) {
	r.cache.Remove(flowID)
}
