// Package guardrails validates user queries, stock symbols and agent
// outputs before they enter or leave the pipeline.
package guardrails

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const (
	MaxQueryLength     = 2000
	MaxSymbolsPerQuery = 20
	MaxOutputLength    = 50000
)

// ValidationError reports input that failed a guardrail check.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var financialKeywords = makeSet(
	"stock", "stocks", "share", "shares", "equity", "equities",
	"market", "markets", "price", "prices", "ticker", "symbol",
	"invest", "investment", "investor", "portfolio", "dividend",
	"earnings", "revenue", "profit", "loss", "margin", "valuation",
	"balance sheet", "income statement", "cash flow", "financial",
	"finance", "analysis", "analyst", "trading", "trade", "volatility",
	"volume", "pe ratio", "p/e", "eps", "market cap", "ipo",
	"quarterly", "annual report", "forecast", "trend", "performance",
	"growth", "sector", "industry", "fund", "etf", "bond", "bonds",
	"yield", "interest rate", "inflation", "recession", "economy",
	"nasdaq", "nyse", "dow", "s&p", "buy", "sell", "hold",
	"recommendation", "sentiment", "compare", "comparison",
)

var outOfScopeKeywords = makeSet(
	"hack", "hacking", "exploit", "malware", "virus", "phishing",
	"password", "crack", "crypto", "cryptocurrency", "bitcoin",
	"ethereum", "nft", "gambling", "casino", "betting", "lottery",
	"medical", "diagnosis", "prescription", "drug", "drugs",
	"weapon", "weapons", "bomb", "violence", "dating", "adult",
	"recipe", "homework", "essay",
)

// financialOutputKeywords is the vocabulary expected in a generated
// report. Used for a soft check on reporting output.
var financialOutputKeywords = makeSet(
	"stock", "price", "market", "financial", "analysis", "investment",
	"earnings", "revenue", "recommendation", "sentiment", "symbol",
	"share", "trading", "valuation", "growth", "performance",
)

// invalidSymbols holds common English words that match the ticker
// pattern but are never symbols.
var invalidSymbols = makeSet(
	"THE", "AND", "FOR", "WITH", "FROM", "THIS", "THAT", "WHAT",
	"WHEN", "WHERE", "WHY", "HOW", "WHO", "WHICH", "WILL", "WOULD",
	"SHOULD", "COULD", "MIGHT", "MAY", "CAN", "MUST", "SHALL",
	"ABOUT", "ABOVE", "ACROSS", "AFTER", "AGAIN", "AGAINST", "ALONG",
	"AMONG", "AROUND", "BEFORE", "BEHIND", "BELOW", "BESIDE",
	"BETWEEN", "BEYOND", "DURING", "EXCEPT", "INSIDE", "OUTSIDE",
	"THROUGH", "TOWARD", "UNDER", "UNTIL", "UPON", "WITHIN",
)

var allowedDataSources = makeSet(
	"yahoo_finance", "alpha_vantage", "financial_modeling_prep", "fmp",
)

var (
	symbolPattern  = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)
	extractPattern = regexp.MustCompile(`\b([A-Z]{1,5})(\.[A-Z]{1,2})?\b`)
)

var dangerousPatterns = compilePatterns(
	`(?i)<script[^>]*>`,
	`(?i)</script>`,
	`(?i)javascript:`,
	`(?i)\bon\w+\s*=`,
	`(?i)data:text/html`,
	`(?i)vbscript:`,
	`(?i)<iframe[^>]*>`,
	`(?i)<object[^>]*>`,
	`(?i)<embed[^>]*>`,
	`(?i)expression\s*\(`,
	`(?i)@import`,
	`\\x[0-9a-fA-F]{2}`,
	`%[0-9a-fA-F]{2}`,
	`(?i)union\s+select`,
	`(?i);\s*drop\s+table`,
	`(?i)\bexec\s*\(`,
	`(?i)\beval\s*\(`,
	`(?i)\bsystem\s*\(`,
	`(?i)shell_exec`,
	`(?i)passthru`,
	`(?i)proc_open`,
	`(?i)file_get_contents\s*\(`,
	`(?i)file_put_contents\s*\(`,
	`(?i)\bfopen\s*\(`,
	`(?i)\bfwrite\s*\(`,
	`(?i)\binclude\s*\(`,
	`(?i)\brequire\s*\(`,
	`(?i)curl_exec`,
	`(?i)fsockopen`,
)

func makeSet(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

func containsDangerous(input string) bool {
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

func containsKeyword(lower string, set map[string]struct{}) bool {
	for keyword := range set {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// SanitizeInput strips NUL and control characters (newline and tab
// survive) and rejects input matching a dangerous pattern.
func SanitizeInput(input string) (string, error) {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == 0 || (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := b.String()
	if containsDangerous(cleaned) {
		return "", newValidationError("query", "input contains potentially dangerous content")
	}
	return cleaned, nil
}

// ValidateQuery checks length, content safety and topical scope. A query
// passes the scope check when it mentions financial vocabulary or
// contains at least one valid stock symbol.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return newValidationError("query", "query is empty")
	}
	if len(query) > MaxQueryLength {
		return newValidationError("query", "query too long: %d characters (max %d)", len(query), MaxQueryLength)
	}
	if _, err := SanitizeInput(query); err != nil {
		return err
	}
	lower := strings.ToLower(query)
	if containsKeyword(lower, outOfScopeKeywords) {
		return newValidationError("query", "query is outside the financial analysis scope")
	}
	if !containsKeyword(lower, financialKeywords) && len(ExtractSymbols(query)) == 0 {
		return newValidationError("query", "query does not appear to be finance-related")
	}
	return nil
}

// ValidateSymbol checks a single ticker: 1-7 characters, uppercase
// letters with an optional exchange suffix, and not a common English
// word.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return newValidationError("symbol", "symbol is empty")
	}
	if len(symbol) > 7 {
		return newValidationError("symbol", "symbol %q too long", symbol)
	}
	if !symbolPattern.MatchString(symbol) {
		return newValidationError("symbol", "invalid symbol format: %q", symbol)
	}
	base, _, _ := strings.Cut(symbol, ".")
	if _, stopword := invalidSymbols[base]; stopword {
		return newValidationError("symbol", "%q is not a stock symbol", symbol)
	}
	return nil
}

// ExtractSymbols finds ticker-shaped tokens in the query, drops the ones
// that fail validation, dedupes preserving order and caps the result at
// MaxSymbolsPerQuery.
func ExtractSymbols(query string) []string {
	matches := extractPattern.FindAllString(query, -1)
	seen := make(map[string]struct{}, len(matches))
	var symbols []string
	for _, match := range matches {
		if ValidateSymbol(match) != nil {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		symbols = append(symbols, match)
		if len(symbols) == MaxSymbolsPerQuery {
			break
		}
	}
	return symbols
}

// ValidateSymbols validates every symbol and the overall count.
func ValidateSymbols(symbols []string) error {
	if len(symbols) > MaxSymbolsPerQuery {
		return newValidationError("symbols", "too many symbols: %d (max %d)", len(symbols), MaxSymbolsPerQuery)
	}
	for _, symbol := range symbols {
		if err := ValidateSymbol(symbol); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAgentOutput checks generated content before it is stored. The
// reporting agent gets a stricter topical check; a long report without
// financial vocabulary only logs a warning.
func ValidateAgentOutput(output, agentName string) error {
	if len(output) > MaxOutputLength {
		return newValidationError("output", "%s output too long: %d characters (max %d)", agentName, len(output), MaxOutputLength)
	}
	if containsDangerous(output) {
		return newValidationError("output", "%s output contains potentially dangerous content", agentName)
	}
	if strings.Contains(strings.ToLower(agentName), "reporting") {
		lower := strings.ToLower(output)
		if containsKeyword(lower, outOfScopeKeywords) {
			return newValidationError("output", "reporting output contains out-of-scope content")
		}
		if len(output) > 100 && !containsKeyword(lower, financialOutputKeywords) {
			slog.Warn("reporting output lacks financial vocabulary", "length", len(output))
		}
	}
	return nil
}

// ValidateContext checks the fields every agent requires.
func ValidateContext(query, queryType string, symbols []string) error {
	if query == "" {
		return newValidationError("context", "missing query")
	}
	if queryType == "" {
		return newValidationError("context", "missing query type")
	}
	if err := ValidateQuery(query); err != nil {
		return err
	}
	return ValidateSymbols(symbols)
}

// IsAllowedDataSource reports whether a source name is recognized.
func IsAllowedDataSource(name string) bool {
	_, ok := allowedDataSources[strings.ToLower(name)]
	return ok
}

// DetectQueryType classifies a query by keyword. Precedence: comparison,
// trend, sentiment, similarity; everything else is single_stock.
func DetectQueryType(query string) string {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, "compare", "comparison", " vs ", " vs.", "versus"):
		return "comparison"
	case containsAny(lower, "trend", "pattern"):
		return "trend"
	case containsAny(lower, "sentiment", "news", "impact"):
		return "sentiment"
	case containsAny(lower, "similar", "like", "same as"):
		return "similarity"
	default:
		return "single_stock"
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Intent summarizes a pre-flight query assessment.
type Intent struct {
	IsFinancial bool     `json:"is_financial"`
	HasSymbols  bool     `json:"has_symbols"`
	QueryType   string   `json:"query_type"`
	Symbols     []string `json:"symbols"`
	RiskLevel   string   `json:"risk_level"`
}

// CheckQueryIntent classifies the query without rejecting it. Risk is
// high when out-of-scope vocabulary appears, medium for very long
// queries or symbol counts over 10, low otherwise.
func CheckQueryIntent(query string) Intent {
	lower := strings.ToLower(query)
	symbols := ExtractSymbols(query)

	risk := "low"
	switch {
	case containsKeyword(lower, outOfScopeKeywords):
		risk = "high"
	case len(query) > 1000 || len(symbols) > 10:
		risk = "medium"
	}

	return Intent{
		IsFinancial: containsKeyword(lower, financialKeywords),
		HasSymbols:  len(symbols) > 0,
		QueryType:   DetectQueryType(query),
		Symbols:     symbols,
		RiskLevel:   risk,
	}
}
