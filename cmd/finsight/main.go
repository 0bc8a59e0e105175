// Command finsight answers financial research queries through the
// multi-agent pipeline.
//
// Usage:
//
//	finsight query "Compare AAPL and MSFT performance"
//	finsight query --session abc123 --stream "Also analyze GOOG"
//	finsight sources
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/quantlayer/finsight/pkg/config"
	"github.com/quantlayer/finsight/pkg/logger"
	"github.com/quantlayer/finsight/pkg/orchestrator"
	"github.com/quantlayer/finsight/pkg/progress"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Query   QueryCmd   `cmd:"" help:"Run a financial research query."`
	Sources SourcesCmd `cmd:"" help:"Show configured data sources."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("finsight version %s\n", version)
	return nil
}

// QueryCmd runs one query through the pipeline.
type QueryCmd struct {
	Text    string `arg:"" help:"The financial query to answer."`
	Session string `short:"s" help:"Session id for follow-up queries."`
	Stream  bool   `help:"Print progress events while the pipeline runs."`
}

func (c *QueryCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	engine, err := orchestrator.New(cfg, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	if c.Stream {
		return c.runStreaming(ctx, engine)
	}

	result, err := engine.ProcessQuery(ctx, c.Text, c.Session)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func (c *QueryCmd) runStreaming(ctx context.Context, engine *orchestrator.Orchestrator) error {
	for update := range engine.StreamQuery(ctx, c.Text, c.Session) {
		if update.Err != nil {
			return update.Err
		}
		if update.Result != nil {
			fmt.Println()
			printResult(update.Result)
			return nil
		}
		for _, event := range update.Events {
			printEvent(event)
		}
	}
	return nil
}

func printEvent(event progress.Event) {
	switch event.EventType {
	case progress.EventAgentStart, progress.EventAgentComplete:
		fmt.Println(event.Message)
	case progress.EventAPICallFailed:
		fmt.Printf("  ! %s\n", event.Message)
	case progress.EventAPICallSkip:
		fmt.Printf("  - %s\n", event.Message)
	}
}

func printResult(result *orchestrator.Result) {
	fmt.Println(result.Report)
	fmt.Println()

	if result.PartialSuccess {
		fmt.Println("Note: some symbols could not be resolved:")
		symbols := make([]string, 0, len(result.SymbolErrors))
		for symbol := range result.SymbolErrors {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			fmt.Printf("  - %s: %s\n", symbol, result.SymbolErrors[symbol])
		}
		fmt.Println()
	}

	fmt.Printf("Session: %s | Transaction: %s | Tokens: %d\n",
		result.SessionID, result.TransactionID, result.TotalTokens)

	var total float64
	for _, seconds := range result.ExecutionTimes {
		total += seconds
	}
	fmt.Printf("Execution time: %.2fs\n", total)
}

// SourcesCmd lists the data sources and what each one serves.
type SourcesCmd struct{}

func (c *SourcesCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	integrations := config.NewIntegrations(cfg.Sources)
	fmt.Printf("Enabled: %s\n\n", integrations.EnabledIntegrationsText())
	fmt.Println(integrations.AvailableDataSourcesText())
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func initLogger(cli *CLI) (func(), error) {
	level := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFile
	}
	format := strings.ToLower(cli.LogFormat)
	logger.Init(level, output, format)
	return cleanup, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("finsight"),
		kong.Description("finsight - multi-agent financial research engine"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
