package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const upsertEntities = `
	UNWIND $entities AS e
	MERGE (n:Entity {id: e.id})
	SET n.name = e.name, n.country = e.country, n.website = e.website, n.registries = e.registries,
		n.batch_id = $batch_id, n.merged = false
`

const mergeEntities = `
	UNWIND $merges AS m
	MERGE (child:Entity {id: m.entity_id})
	MERGE (parent:Entity {id: m.merged_with_id})
	MERGE (child)-[r:MERGED_WITH]->(parent)
	SET r.criteria = m.criteria, r.batch_id = $batch_id, child.merged = true
	WITH child, parent
	MATCH (child)-[t:TRANSFER]->(to)
	MERGE (parent)-[moved:TRANSFER {id: t.id}]->(to)
	SET moved += properties(t)
	DELETE t
`

const mergeRecipients = `
	UNWIND $merges AS m
	MATCH (child:Entity {id: m.entity_id})
	MATCH (parent:Entity {id: m.merged_with_id})
	MATCH (from)-[t:TRANSFER]->(child)
	MERGE (from)-[moved:TRANSFER {id: t.id}]->(parent)
	SET moved += properties(t)
	DELETE t
`

const retireTransfers = `
	MATCH ()-[t:TRANSFER]->()
	WHERE t.id IN $ids
	DELETE t
`

const upsertTransfers = `
	UNWIND $transfers AS t
	MERGE (e:Entity {id: t.emitter_id})
	MERGE (r:Entity {id: t.recipient_id})
	MERGE (e)-[x:TRANSFER {id: t.id}]->(r)
	SET x.amount = t.amount, x.currency = t.currency, x.hide_amount = t.hide_amount,
		x.agent_id = t.agent_id, x.source_id = $source_id, x.batch_id = $batch_id
`

const linkAgents = `
	UNWIND $transfers AS t
	MERGE (a:Entity {id: t.agent_id})
	MERGE (r:Entity {id: t.recipient_id})
	MERGE (a)-[x:AGENT_OF {transfer_id: t.id}]->(r)
`

// Runner executes statements in one transaction. *Client is a Runner.
type Runner interface {
	RunStatements(ctx context.Context, statements []Statement) error
}

// Projector mirrors fern events into the graph. It is an events.Sink.
type Projector struct {
	runner Runner
	logger ectologger.Logger
}

func NewProjector(runner Runner, logger ectologger.Logger) *Projector {
	return &Projector{runner: runner, logger: logger}
}

// Publish applies each event in its own transaction. Every statement is idempotent so redelivery is safe.
func (p *Projector) Publish(ctx context.Context, evs ...events.Event) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Publish")
	defer span.End()

	for _, event := range evs {
		statements := Statements(event)
		if len(statements) == 0 {
			continue
		}
		if err := p.runner.RunStatements(ctx, statements); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"event_id":   event.ID,
				"event_type": event.Type,
				"batch_id":   event.BatchID,
			}).Error("Failed to project event into graph")
			return fmt.Errorf("project %s event %s: %w", event.Type, event.ID, err)
		}
	}

	p.logger.WithContext(ctx).WithField("events", len(evs)).Debug("Projected events into graph")
	return nil
}

// Statements translates one event into Cypher.
func Statements(event events.Event) []Statement {
	switch event.Type {
	case events.TypeEntitiesCreated:
		if len(event.Entities) == 0 {
			return nil
		}
		rows := make([]map[string]any, len(event.Entities))
		for i, e := range event.Entities {
			registries := make([]string, len(e.Registries))
			for j, r := range e.Registries {
				registries[j] = string(r)
			}
			rows[i] = map[string]any{
				"id":         e.ID,
				"name":       e.Name,
				"country":    e.Country,
				"website":    e.Website,
				"registries": registries,
			}
		}
		return []Statement{{Cypher: upsertEntities, Params: map[string]any{"entities": rows, "batch_id": event.BatchID}}}

	case events.TypeEntitiesMerged:
		if len(event.Merges) == 0 {
			return nil
		}
		rows := make([]map[string]any, len(event.Merges))
		for i, m := range event.Merges {
			rows[i] = map[string]any{
				"entity_id":      m.EntityID,
				"merged_with_id": m.MergedWithID,
				"criteria":       m.Criteria,
			}
		}
		params := map[string]any{"merges": rows, "batch_id": event.BatchID}
		return []Statement{
			{Cypher: mergeEntities, Params: params},
			{Cypher: mergeRecipients, Params: params},
		}

	case events.TypeTransfersCreated:
		if len(event.Transfers) == 0 {
			return nil
		}
		var (
			rows    []map[string]any
			agents  []map[string]any
			retired []string
		)
		for _, t := range event.Transfers {
			retired = append(retired, t.MergedFrom...)
			if t.EmitterID == "" || t.RecipientID == "" {
				continue
			}
			row := map[string]any{
				"id":           t.ID,
				"emitter_id":   t.EmitterID,
				"recipient_id": t.RecipientID,
				"agent_id":     t.AgentID,
				"amount":       t.Amount,
				"currency":     t.Currency,
				"hide_amount":  t.HideAmount,
			}
			rows = append(rows, row)
			if t.AgentID != "" {
				agents = append(agents, row)
			}
		}

		var statements []Statement
		if len(retired) > 0 {
			statements = append(statements, Statement{Cypher: retireTransfers, Params: map[string]any{"ids": retired}})
		}
		if len(rows) > 0 {
			statements = append(statements, Statement{Cypher: upsertTransfers, Params: map[string]any{
				"transfers": rows,
				"batch_id":  event.BatchID,
				"source_id": event.SourceID,
			}})
		}
		if len(agents) > 0 {
			statements = append(statements, Statement{Cypher: linkAgents, Params: map[string]any{"transfers": agents}})
		}
		return statements
	}
	return nil
}
