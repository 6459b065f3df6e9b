package projection

import (
	"fmt"

	"github.com/codewandler/factlog-go/core/eventlog"
	"github.com/codewandler/factlog-go/core/schema"
)

// Reducer folds one event into the prior state and returns the new state.
// Reducers are pure: the same prior state and event always produce the same
// result, which is what makes replay deterministic.
type Reducer func(prior any, ev eventlog.Event, payload schema.Payload) (any, error)

// ReducerTable maps event type names to reducers for one stream kind.
// Event types with no entry are a no-op during replay: an older reader must
// tolerate events written by newer code.
type ReducerTable map[string]Reducer

// reduce adapts a typed fold function into a Reducer, checking state and
// payload types at the boundary.
func reduce[S any, P schema.Payload](fn func(prior *S, ev eventlog.Event, p P) error) Reducer {
	return func(prior any, ev eventlog.Event, payload schema.Payload) (any, error) {
		state, ok := prior.(*S)
		if !ok {
			return nil, fmt.Errorf("reducer for %s: state is %T, want %T", ev.Type, prior, new(S))
		}
		p, ok := payload.(P)
		if !ok {
			return nil, fmt.Errorf("reducer for %s: payload is %T", ev.Type, payload)
		}
		if err := fn(state, ev, p); err != nil {
			return nil, err
		}
		return state, nil
	}
}

// DefaultTables returns the built-in reducer tables per stream kind.
func DefaultTables() map[Kind]ReducerTable {
	return map[Kind]ReducerTable{
		KindChain:    chainTable(),
		KindDocument: documentTable(),
		KindAgent:    agentTable(),
	}
}

func chainTable() ReducerTable {
	return ReducerTable{
		schema.TypeChainCreated: reduce(func(s *ChainState, ev eventlog.Event, p *schema.ChainCreated) error {
			*s = ChainState{
				ID:          ev.StreamID,
				Name:        p.Name,
				Description: p.Description,
				Canvas:      p.Canvas,
				CreatedAt:   ev.OccurredAt,
				UpdatedAt:   ev.OccurredAt,
			}
			return nil
		}),
		schema.TypeChainUpdated: reduce(func(s *ChainState, ev eventlog.Event, p *schema.ChainUpdated) error {
			if p.Name != nil {
				s.Name = *p.Name
			}
			if p.Description != nil {
				s.Description = *p.Description
			}
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
		// replaces only the canvas sub-field
		schema.TypeChainCanvasUpdated: reduce(func(s *ChainState, ev eventlog.Event, p *schema.ChainCanvasUpdated) error {
			s.Canvas = p.Canvas
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
		schema.TypeEdgeCreated: reduce(func(s *ChainState, ev eventlog.Event, p *schema.EdgeCreated) error {
			if s.Edges == nil {
				s.Edges = map[string]EdgeState{}
			}
			s.Edges[p.EdgeID] = EdgeState{
				ID:       p.EdgeID,
				SourceID: p.SourceID,
				TargetID: p.TargetID,
				Label:    p.Label,
			}
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
		schema.TypeEdgeUpdated: reduce(func(s *ChainState, ev eventlog.Event, p *schema.EdgeUpdated) error {
			e, ok := s.Edges[p.EdgeID]
			if !ok {
				// edge unknown to this projection: ignore, same as an
				// unrecognized event type
				return nil
			}
			if p.SourceID != nil {
				e.SourceID = *p.SourceID
			}
			if p.TargetID != nil {
				e.TargetID = *p.TargetID
			}
			if p.Label != nil {
				e.Label = *p.Label
			}
			s.Edges[p.EdgeID] = e
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
		schema.TypeEdgeDeleted: reduce(func(s *ChainState, ev eventlog.Event, p *schema.EdgeDeleted) error {
			delete(s.Edges, p.EdgeID)
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
	}
}

func documentTable() ReducerTable {
	return ReducerTable{
		schema.TypeDocumentCreated: reduce(func(s *DocumentState, ev eventlog.Event, p *schema.DocumentCreated) error {
			*s = DocumentState{
				ID:        ev.StreamID,
				Title:     p.Title,
				Content:   p.Content,
				Version:   1,
				CreatedAt: ev.OccurredAt,
				UpdatedAt: ev.OccurredAt,
			}
			return nil
		}),
		// shallow merge plus version counter bump
		schema.TypeDocumentUpdated: reduce(func(s *DocumentState, ev eventlog.Event, p *schema.DocumentUpdated) error {
			if p.Title != nil {
				s.Title = *p.Title
			}
			if p.Content != nil {
				s.Content = *p.Content
			}
			s.Version++
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
		schema.TypeDocumentDeleted: reduce(func(s *DocumentState, ev eventlog.Event, p *schema.DocumentDeleted) error {
			s.Deleted = true
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
	}
}

func agentTable() ReducerTable {
	return ReducerTable{
		schema.TypeAgentCreated: reduce(func(s *AgentState, ev eventlog.Event, p *schema.AgentCreated) error {
			*s = AgentState{
				ID:        ev.StreamID,
				Name:      p.Name,
				Model:     p.Model,
				Prompt:    p.Prompt,
				Config:    p.Config,
				CreatedAt: ev.OccurredAt,
				UpdatedAt: ev.OccurredAt,
			}
			return nil
		}),
		schema.TypeAgentUpdated: reduce(func(s *AgentState, ev eventlog.Event, p *schema.AgentUpdated) error {
			if p.Name != nil {
				s.Name = *p.Name
			}
			if p.Model != nil {
				s.Model = *p.Model
			}
			if p.Prompt != nil {
				s.Prompt = *p.Prompt
			}
			if len(p.Config) > 0 {
				s.Config = p.Config
			}
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
		schema.TypeAgentExecuted: reduce(func(s *AgentState, ev eventlog.Event, p *schema.AgentExecuted) error {
			s.Executions++
			s.LastStatus = p.Status
			s.LastExecutedAt = ev.OccurredAt
			s.UpdatedAt = ev.OccurredAt
			return nil
		}),
	}
}
