package sources

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/guardrails"
	"github.com/quantlayer/finsight/pkg/metrics"
	"github.com/quantlayer/finsight/pkg/progress"
	"github.com/quantlayer/finsight/pkg/tracking"
)

// DefaultSource is used when a preferred source is invalid or unknown.
const DefaultSource = config.SourceYahoo

// EventSink receives progress events for API call activity.
type EventSink func(progress.Event)

// UnifiedDataClient routes fetches across the configured sources with
// preferred-source fallback. Disabled integrations are skipped with an
// event, never called.
type UnifiedDataClient struct {
	clients      map[string]Client
	integrations *config.Integrations
	events       EventSink
	logger       *slog.Logger
}

func NewUnifiedDataClient(cfg config.SourcesConfig, integrations *config.Integrations, logger *slog.Logger) *UnifiedDataClient {
	if logger == nil {
		logger = slog.Default()
	}
	clients := map[string]Client{
		config.SourceYahoo:        NewYahooClient(cfg),
		config.SourceAlphaVantage: NewAlphaVantageClient(cfg),
		config.SourceFMP:          NewFMPClient(cfg),
	}
	return &UnifiedDataClient{
		clients:      clients,
		integrations: integrations,
		logger:       logger,
	}
}

// newUnifiedWithClients lets tests inject fake clients.
func newUnifiedWithClients(clients map[string]Client, integrations *config.Integrations, logger *slog.Logger) *UnifiedDataClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnifiedDataClient{clients: clients, integrations: integrations, logger: logger}
}

// SetEventSink installs a callback for API call progress events.
func (u *UnifiedDataClient) SetEventSink(sink EventSink) {
	u.events = sink
}

func (u *UnifiedDataClient) emit(event progress.Event) {
	if u.events != nil {
		u.events(event)
	}
}

// GetData fetches one data type for one symbol. The preferred source is
// tried first when it can serve the type; an invalid preferred source
// falls back to the default. Returns the payload and the name of the
// source that served it.
func (u *UnifiedDataClient) GetData(ctx context.Context, symbol, dataType, preferred, txnID string) (any, string, error) {
	if err := guardrails.ValidateSymbol(symbol); err != nil {
		return nil, "", err
	}

	if preferred != "" && !guardrails.IsAllowedDataSource(preferred) {
		u.logger.Warn("invalid preferred source, falling back to default",
			"preferred", preferred, "default", DefaultSource)
		preferred = DefaultSource
	}

	route, ok := config.DataSourceMapping[dataType]
	if !ok {
		return nil, "", fmt.Errorf("unknown data type: %s", dataType)
	}

	order := routeOrder(route.Preferred, preferred)

	var attempts []error
	for _, source := range order {
		display := config.DisplayName(source)
		if !u.integrations.IsEnabled(source) {
			u.emit(progress.APICallSkip(display, dataType, symbol, txnID))
			metrics.SourceAPICalls.WithLabelValues(source, dataType, metrics.OutcomeSkipped).Inc()
			continue
		}
		client, ok := u.clients[source]
		if !ok {
			continue
		}

		u.emit(progress.APICallStart(display, dataType, symbol, txnID))
		payload, err := client.Fetch(ctx, symbol, dataType)
		if err != nil {
			u.emit(progress.APICallFailed(display, dataType, symbol, txnID, err))
			metrics.SourceAPICalls.WithLabelValues(source, dataType, metrics.OutcomeFailure).Inc()
			u.logger.Debug("source fetch failed",
				"source", source, "symbol", symbol, "data_type", dataType, "error", err)
			attempts = append(attempts, err)
			continue
		}
		u.emit(progress.APICallSuccess(display, dataType, symbol, txnID))
		metrics.SourceAPICalls.WithLabelValues(source, dataType, metrics.OutcomeSuccess).Inc()
		return payload, source, nil
	}

	if len(attempts) == 0 {
		return nil, "", &NoSourcesError{Symbol: symbol, DataType: dataType}
	}
	return nil, "", &AllSourcesError{Symbol: symbol, DataType: dataType, Attempts: attempts}
}

// routeOrder moves the preferred source to the front of the mapping
// order when it appears there.
func routeOrder(mapped []string, preferred string) []string {
	if preferred == "" {
		return mapped
	}
	order := make([]string, 0, len(mapped))
	for _, source := range mapped {
		if source == preferred {
			order = append([]string{preferred}, order...)
			continue
		}
		order = append(order, source)
	}
	// keep mapping order when the preferred source cannot serve the type
	if len(order) > 0 && order[0] != preferred {
		return mapped
	}
	return order
}

// CitationsForSymbol gathers citations for a symbol across all clients.
func (u *UnifiedDataClient) CitationsForSymbol(symbol string) []tracking.Citation {
	var citations []tracking.Citation
	for _, source := range []string{config.SourceYahoo, config.SourceAlphaVantage, config.SourceFMP} {
		if client, ok := u.clients[source]; ok {
			citations = append(citations, client.Citations().BySymbol(symbol)...)
		}
	}
	return citations
}

// AllCitations gathers every citation recorded by the clients.
func (u *UnifiedDataClient) AllCitations() []tracking.Citation {
	var citations []tracking.Citation
	for _, source := range []string{config.SourceYahoo, config.SourceAlphaVantage, config.SourceFMP} {
		if client, ok := u.clients[source]; ok {
			citations = append(citations, client.Citations().All()...)
		}
	}
	return citations
}
