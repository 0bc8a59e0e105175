package config

import (
	"fmt"
	"os"
	"strings"
)

// Canonical data source names.
const (
	SourceYahoo        = "yahoo_finance"
	SourceAlphaVantage = "alpha_vantage"
	SourceFMP          = "fmp"
)

// Data types served by the sources.
const (
	DataTypePrice      = "stock_price"
	DataTypeCompany    = "company_info"
	DataTypeHistorical = "historical_data"
	DataTypeFinancials = "financial_statements"
	DataTypeNews       = "news"
	DataTypeIndicators = "technical_indicators"
)

// DataTypeRoute maps a data type to the sources that can serve it, in
// preference order.
type DataTypeRoute struct {
	Preferred   []string
	Description string
}

// DataSourceMapping is the routing table for every data type.
var DataSourceMapping = map[string]DataTypeRoute{
	DataTypePrice: {
		Preferred:   []string{SourceYahoo, SourceAlphaVantage, SourceFMP},
		Description: "Real-time stock price data",
	},
	DataTypeCompany: {
		Preferred:   []string{SourceYahoo, SourceFMP, SourceAlphaVantage},
		Description: "Company profile and fundamentals",
	},
	DataTypeHistorical: {
		Preferred:   []string{SourceYahoo},
		Description: "Historical price data",
	},
	DataTypeFinancials: {
		Preferred:   []string{SourceFMP, SourceYahoo},
		Description: "Financial statements",
	},
	DataTypeNews: {
		Preferred:   []string{SourceYahoo, SourceFMP},
		Description: "Financial news articles",
	},
	DataTypeIndicators: {
		Preferred:   []string{SourceAlphaVantage},
		Description: "Technical analysis indicators",
	},
}

var displayNames = map[string]string{
	SourceYahoo:        "Yahoo Finance",
	SourceAlphaVantage: "Alpha Vantage",
	SourceFMP:          "Financial Modeling Prep",
}

// DisplayName returns the human-readable name of a source.
func DisplayName(source string) string {
	if name, ok := displayNames[source]; ok {
		return name
	}
	return source
}

// Integrations answers which data sources are enabled. An environment
// variable ENABLE_<NAME> set to true/1/yes/on (or their negatives)
// overrides the config file; sources default to enabled.
type Integrations struct {
	enabled   map[string]bool
	lookupEnv func(string) (string, bool)
}

func NewIntegrations(cfg SourcesConfig) *Integrations {
	return &Integrations{
		enabled:   cfg.Enabled,
		lookupEnv: os.LookupEnv,
	}
}

// IsEnabled reports whether a source may be called.
func (i *Integrations) IsEnabled(source string) bool {
	envKey := "ENABLE_" + strings.ToUpper(source)
	if value, ok := i.lookupEnv(envKey); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		default:
			return false
		}
	}
	if enabled, ok := i.enabled[source]; ok {
		return enabled
	}
	return true
}

// EnabledSourcesFor returns the enabled sources for a data type,
// preserving the mapping's preference order.
func (i *Integrations) EnabledSourcesFor(dataType string) []string {
	route, ok := DataSourceMapping[dataType]
	if !ok {
		return nil
	}
	var sources []string
	for _, source := range route.Preferred {
		if i.IsEnabled(source) {
			sources = append(sources, source)
		}
	}
	return sources
}

// EnabledSources returns all enabled sources in canonical order.
func (i *Integrations) EnabledSources() []string {
	var sources []string
	for _, source := range []string{SourceYahoo, SourceAlphaVantage, SourceFMP} {
		if i.IsEnabled(source) {
			sources = append(sources, source)
		}
	}
	return sources
}

// EnabledIntegrationsText renders the enabled sources as prose for
// prompt construction, e.g. "Yahoo Finance, Alpha Vantage, and
// Financial Modeling Prep".
func (i *Integrations) EnabledIntegrationsText() string {
	sources := i.EnabledSources()
	names := make([]string, len(sources))
	for idx, source := range sources {
		names[idx] = DisplayName(source)
	}
	switch len(names) {
	case 0:
		return "no data sources"
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}

// AvailableDataSourcesText renders the data types each enabled source
// serves, for the reporting agent's system prompt.
func (i *Integrations) AvailableDataSourcesText() string {
	dataTypes := []string{
		DataTypePrice, DataTypeCompany, DataTypeHistorical,
		DataTypeFinancials, DataTypeNews, DataTypeIndicators,
	}
	var b strings.Builder
	b.WriteString("AVAILABLE DATA SOURCES:\n")
	for _, dataType := range dataTypes {
		route := DataSourceMapping[dataType]
		enabled := i.EnabledSourcesFor(dataType)
		if len(enabled) == 0 {
			continue
		}
		names := make([]string, len(enabled))
		for idx, source := range enabled {
			names[idx] = DisplayName(source)
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", dataType, route.Description, strings.Join(names, ", "))
	}
	b.WriteString("\nIMPORTANT: Only cite data from the sources listed above.")
	return b.String()
}
