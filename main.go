package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/config"
	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/pipeline"
)

const defaultConfigFile = "config.yaml"

type flags struct {
	configFile   string
	logLevel     string
	sources      []string
	providers    []string
	combined     bool
	exportFormat string
	outputFile   string
	searchParams []string
	searchFile   string
	sourceKeys   map[string]string
	providerKeys map[string]string
	progress     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Logger.Errorw("Run failed", "error", err)
		log.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "vuln-builder",
		Short: "Build a vulnerability dataset, categorized by AI providers",
		Long: `vuln-builder searches vulnerability feeds for the given keywords, removes
duplicates, asks one or more text-generation providers for the CWE category,
vendor, cause and impact of every record and exports the dataset.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configFile, "config", "c", defaultConfigFile, "config file")
	fl.StringVar(&f.logLevel, "log-level", "", "log level, overrides the config file")
	fl.StringSliceVar(&f.sources, "data-source", nil, `data sources to collect from ("both" or "all" for every source)`)
	fl.StringSliceVar(&f.providers, "provider", []string{pipeline.NoProvider}, `providers to categorize with ("none" for no categorization)`)
	fl.BoolVar(&f.combined, "combined", false, "combine the providers by weighted voting into one dataset")
	fl.StringVar(&f.exportFormat, "export-format", "", "export format (csv, json, postgres)")
	fl.StringVar(&f.outputFile, "output-file", pipeline.DefaultOutputFile, "output file name")
	fl.StringSliceVar(&f.searchParams, "search-params", nil, "search keywords")
	fl.StringVar(&f.searchFile, "search-file", "", "file with one search keyword per line (local path or URL)")
	fl.StringToStringVar(&f.sourceKeys, "source-key", nil, "data source API keys as name=key")
	fl.StringToStringVar(&f.providerKeys, "provider-key", nil, "provider API keys as name=key")
	fl.BoolVar(&f.progress, "progress", true, "show progress bars")
	_ = cmd.MarkFlagRequired("data-source")
	_ = cmd.MarkFlagRequired("export-format")

	return cmd
}

func run(cmd *cobra.Command, f flags) error {
	cfg, err := loadConfig(f.configFile, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	logOpt := cfg.LogOption()
	if f.logLevel != "" {
		logOpt.Level = f.logLevel
	}
	if err = log.InitLogger(logOpt); err != nil {
		return err
	}
	defer log.Sync()

	for name, key := range f.sourceKeys {
		cfg.SetSourceKey(name, key)
	}
	for name, key := range f.providerKeys {
		if err = cfg.SetProviderKey(name, key); err != nil {
			return err
		}
	}

	pipeline.RegisterDefaults()
	p, err := pipeline.New(cfg, pipeline.Options{
		Sources:      f.sources,
		Providers:    f.providers,
		Combined:     f.combined,
		ExportFormat: f.exportFormat,
		OutputFile:   f.outputFile,
		Keywords:     f.searchParams,
		KeywordFile:  f.searchFile,
		Progress:     f.progress,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := p.Run(ctx)
	if report != nil {
		report.Log()
	}
	return err
}

// loadConfig reads the config file. A missing default file yields an empty
// configuration so that uncategorized runs need no file at all.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return &config.Config{}, nil
	}
	return nil, xerrors.Errorf("config error: %w", err)
}
