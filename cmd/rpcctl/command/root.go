package command

// root.go defines the root command and loads the configuration every subcommand shares.

import (
	"fmt"
	"os"

	"mini-jsonrpc/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rpcctl",
	Short: "rpcctl - serve and call JSON-RPC endpoints",
	Long: `rpcctl runs a JSON-RPC endpoint or calls one.

Configuration comes from the environment and an optional .env file:
RPC_NAME, RPC_CODEC, RPC_TRANSPORT, RPC_LISTEN_ADDR, RPC_WS_ADDR, RPC_ENDPOINTS,
ETCD_ENDPOINTS, RPC_BALANCER, LOG_LEVEL, LOG_FORMAT and the timeouts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		l, err := loaded.NewLogger()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, callCmd, notifyCmd)
}
