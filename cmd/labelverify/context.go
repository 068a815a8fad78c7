package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/labelverify-worker/internal/bootstrap"
	"github.com/adverant/nexus/labelverify-worker/internal/config"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

const envFile = ".env.labelverify"

type rootFlags struct {
	policy     string
	ocr        string
	ocrFixture string
	json       bool
	logLevel   string
}

type commandContext struct {
	flags *rootFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	componentsOnce sync.Once
	components     *bootstrap.Components
	componentsErr  error
}

func newCommandContext(flags *rootFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		_ = godotenv.Load(envFile)
		cfg, err := config.LoadConfig()
		if err != nil {
			c.configErr = err
			return
		}
		level := cfg.LogLevel
		if strings.TrimSpace(c.flags.logLevel) != "" {
			level = c.flags.logLevel
		}
		// Logs go to stderr so stdout stays machine-readable.
		if err := logging.Setup(level, cfg.LogFormat, os.Stderr); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureComponents(cmd *cobra.Command) (*bootstrap.Components, error) {
	c.componentsOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.componentsErr = err
			return
		}
		c.components, c.componentsErr = bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{
			PolicyPath:  c.flags.policy,
			Engine:      strings.ToLower(strings.TrimSpace(c.flags.ocr)),
			FixturePath: c.flags.ocrFixture,
		})
	})
	return c.components, c.componentsErr
}

func (c *commandContext) close() {
	if c.components != nil {
		_ = c.components.Close()
	}
}

// useJSON is true when forced or when stdout is not a terminal
func (c *commandContext) useJSON(w io.Writer) bool {
	return c.flags.json || !isTerminal(w)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// applicationFlags describe an application on the command line
type applicationFlags struct {
	file        string
	brand       string
	abv         string
	netContents string
	noWarning   bool
}

func (a *applicationFlags) register(cmd *cobra.Command, withFile bool) {
	if withFile {
		cmd.Flags().StringVar(&a.file, "application", "", "Application descriptor JSON file")
	}
	cmd.Flags().StringVar(&a.brand, "brand", "", "Declared brand name")
	cmd.Flags().StringVar(&a.abv, "abv", "", "Declared alcohol by volume (e.g. 13.5%)")
	cmd.Flags().StringVar(&a.netContents, "net-contents", "", "Declared net contents (e.g. 750 mL)")
	cmd.Flags().BoolVar(&a.noWarning, "no-warning", false, "Do not require the government warning")
}

func (a *applicationFlags) given() bool {
	return a.file != "" || a.brand != "" || a.abv != "" || a.netContents != ""
}

func (a *applicationFlags) record() (processor.ApplicationRecord, error) {
	if a.file != "" {
		if a.brand != "" || a.abv != "" || a.netContents != "" {
			return processor.ApplicationRecord{}, fmt.Errorf("--application cannot be combined with --brand, --abv or --net-contents")
		}
		data, err := os.ReadFile(a.file)
		if err != nil {
			return processor.ApplicationRecord{}, fmt.Errorf("read application: %w", err)
		}
		app, err := processor.ParseApplicationJSON(data)
		if err != nil {
			return processor.ApplicationRecord{}, err
		}
		if a.noWarning {
			app.GovernmentWarningRequired = false
		}
		return app, nil
	}

	app := processor.NewApplicationRecord(a.brand, a.abv, a.netContents)
	app.GovernmentWarningRequired = !a.noWarning
	if err := app.Validate(); err != nil {
		return processor.ApplicationRecord{}, err
	}
	return app, nil
}
