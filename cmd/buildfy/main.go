package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manash/buildfy/internal/config"
	"github.com/manash/buildfy/internal/display"
	"github.com/manash/buildfy/internal/keys"
	"github.com/manash/buildfy/internal/log"
	"github.com/manash/buildfy/internal/provider"
	"github.com/manash/buildfy/internal/provider/buildfyapi"
	"github.com/manash/buildfy/internal/session"
	"github.com/manash/buildfy/internal/viewer"
	"github.com/manash/buildfy/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var flagConfig string

type App struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Registry   *models.ModelRegistry
	GetEnv     func(string) string
	NewBackend func(cfg *provider.Config) (provider.Backend, error)
	OpenStore  func(path string) (*session.Store, error)
	IsTerminal func(w io.Writer) bool
	Keys       *keys.Store

	v   *viper.Viper
	cfg *config.Config
}

func DefaultApp() *App {
	return &App{
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
		Registry:   models.DefaultRegistry(),
		GetEnv:     os.Getenv,
		NewBackend: newBackend,
		OpenStore:  session.NewStoreWithPath,
		IsTerminal: viewer.IsTerminal,
		Keys:       keys.NewStore(),
	}
}

func newBackend(cfg *provider.Config) (provider.Backend, error) {
	factory := provider.NewFactory()
	factory.Register(buildfyapi.BackendName, buildfyapi.NewBackend)
	return factory.New(buildfyapi.BackendName, cfg)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(app *App) *cobra.Command {
	app.v = config.New()

	cmd := &cobra.Command{
		Use:   "buildfy",
		Short: "Turn screenshots into React code",
		Long: `buildfy uploads a screenshot of a user interface and streams back
generated React + Tailwind code for it.

Examples:
  buildfy generate shot.png -o App.tsx
  buildfy generate sample --model gpt4 --shadcn=false
  buildfy batch screens.txt --output-dir out --parallel 4
  buildfy repl
  buildfy serve --addr :8080`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&flagConfig, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	flags.String("base-url", "", "code generation service URL")
	flags.String("api-key", "", "bearer token for the generation service")
	flags.StringP("model", "m", "", "model to use (see 'buildfy models')")
	flags.Bool("shadcn", true, "generate code using shadcn/ui components")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.BoolP("verbose", "v", false, "log HTTP requests and responses")
	flags.Bool("no-history", false, "do not record runs in the history database")

	bind := map[string]string{
		"api.base_url": "base-url",
		"api.key":      "api-key",
		"model":        "model",
		"shadcn":       "shadcn",
		"log.level":    "log-level",
		"verbose":      "verbose",
	}
	for key, name := range bind {
		_ = app.v.BindPFlag(key, flags.Lookup(name))
	}

	cmd.SetIn(app.In)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	cmd.AddCommand(
		newGenerateCmd(app),
		newReplCmd(app),
		newBatchCmd(app),
		newModelsCmd(app),
		newHistoryCmd(app),
		newServeCmd(app),
		newKeysCmd(app),
	)
	return cmd
}

func (app *App) loadConfig() error {
	cfg, err := config.Load(app.v, flagConfig)
	if err != nil {
		return err
	}
	app.cfg = cfg

	level := cfg.Log.Level
	if cfg.Verbose {
		level = "debug"
	}
	log.Configure(log.Config{Level: level, Output: app.Err})
	return nil
}

// openHistory returns nil when history is disabled.
func (app *App) openHistory(cmd *cobra.Command) (*session.Store, error) {
	if !app.cfg.History.Enabled {
		return nil, nil
	}
	if off, _ := cmd.Flags().GetBool("no-history"); off {
		return nil, nil
	}
	store, err := app.OpenStore(app.cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// sessionOptions is the template every session of this invocation is built
// from. history may be nil.
func (app *App) sessionOptions(backend provider.Backend, history *session.Store) session.Options {
	opts := session.Options{
		Uploader:            backend,
		Generator:           backend,
		Registry:            app.Registry,
		Model:               app.cfg.Model,
		UseComponentLibrary: app.cfg.Shadcn,
		StatusInterval:      app.cfg.StatusInterval,
		Backend:             backend.Name(),
		BlockingDelivery:    true,
	}
	if history != nil {
		opts.History = history
	}
	return opts
}

func (app *App) backend() (provider.Backend, error) {
	pcfg := app.cfg.ProviderConfig()
	key, source, err := keys.Resolve(pcfg.APIKey, pcfg.BaseURL, app.Keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored key: %w", err)
	}
	pcfg.APIKey = key
	if source != "" {
		logger := log.WithComponent("cli")
		logger.Debug().Str("source", source).Msg("using API key")
	}

	backend, err := app.NewBackend(pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return backend, nil
}

// previewer is nil unless stdout is a terminal that speaks the kitty
// graphics protocol.
func (app *App) previewer() *display.Previewer {
	if !app.IsTerminal(app.Out) || !display.IsTerminalSupported(app.GetEnv) {
		return nil
	}
	return display.New(app.Out)
}
