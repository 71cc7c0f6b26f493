package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/procflow/internal/config"
	"github.com/rendis/procflow/internal/logging"
)

type cli struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
	// logOut must not be stdout: the mcp command speaks JSON-RPC there.
	logOut io.Writer
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"store-driver": "store.driver",
	"dsn":          "store.dsn",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func (c *cli) setupConfig(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	cfg, err := config.Load(v, c.configFile)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.New(c.logOut, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(c.logger)
	return nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "procflow",
		Short:         "Run document procedures and process chains",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "Path to config file (default: procflow.yaml in ., $HOME/.procflow, /etc/procflow)")
	pf.String("store-driver", "", "Store driver: libsql or postgres")
	pf.String("dsn", "", "Store connection string")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text or json")

	root.AddCommand(
		newServeCmd(c),
		newMCPCmd(c),
		newMigrateCmd(c),
		newUserCmd(c),
		newVersionCmd(),
	)
	return root
}

func main() {
	c := &cli{logOut: os.Stderr}
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
