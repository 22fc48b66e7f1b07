package importer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/orneryd/wdgraph/pkg/wikidata"
)

const meterName = "github.com/orneryd/wdgraph/pkg/importer"

// importMetrics holds the OpenTelemetry instruments of one importer.
type importMetrics struct {
	documents metric.Int64Counter
	created   metric.Int64Counter
	existing  metric.Int64Counter
	dumped    metric.Int64Counter
	failed    metric.Int64Counter
}

func newImportMetrics(meter metric.Meter) (*importMetrics, error) {
	m := &importMetrics{}
	var err error

	if m.documents, err = meter.Int64Counter(
		"wdgraph.import.documents",
		metric.WithDescription("Entity documents submitted to the importer"),
		metric.WithUnit("{document}"),
	); err != nil {
		return nil, fmt.Errorf("create documents counter: %w", err)
	}

	if m.created, err = meter.Int64Counter(
		"wdgraph.import.nodes.created",
		metric.WithDescription("Nodes inserted into the store"),
		metric.WithUnit("{node}"),
	); err != nil {
		return nil, fmt.Errorf("create created counter: %w", err)
	}

	if m.existing, err = meter.Int64Counter(
		"wdgraph.import.nodes.existing",
		metric.WithDescription("Documents whose node already existed"),
		metric.WithUnit("{node}"),
	); err != nil {
		return nil, fmt.Errorf("create existing counter: %w", err)
	}

	if m.dumped, err = meter.Int64Counter(
		"wdgraph.import.properties.dumped",
		metric.WithDescription("Property records appended to the property dump"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("create dumped counter: %w", err)
	}

	if m.failed, err = meter.Int64Counter(
		"wdgraph.import.documents.failed",
		metric.WithDescription("Documents rejected by the importer"),
		metric.WithUnit("{document}"),
	); err != nil {
		return nil, fmt.Errorf("create failed counter: %w", err)
	}

	return m, nil
}

func classAttr(c wikidata.Class) metric.AddOption {
	return metric.WithAttributes(attribute.String("class", c.String()))
}

func (m *importMetrics) record(ctx context.Context, c wikidata.Class, res *Result, err error) {
	attrs := classAttr(c)
	m.documents.Add(ctx, 1, attrs)
	if err != nil {
		m.failed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("class", c.String()),
			attribute.String("reason", failureReason(err)),
		))
		return
	}
	if res.Created {
		m.created.Add(ctx, 1, attrs)
	} else {
		m.existing.Add(ctx, 1, attrs)
	}
	if res.Dumped {
		m.dumped.Add(ctx, 1, attrs)
	}
}
