// Package main ledgerctl 账本运维命令行
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"agent-credit-api/internal/config"
	"agent-credit-api/internal/wire"
	"agent-credit-api/pkg/logger"
)

// getEnvOrDefault 读取环境变量，缺省时返回默认值
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var (
	ledgerToken string
	appCfg      *config.Config
	deps        *wire.Maintenance
	cleanupDeps = func() {}
)

// annotationNoStorage 标记不需要连接数据库的子命令
const annotationNoStorage = "no-storage"

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operate the agent credit ledger",
	Long: `ledgerctl inspects and adjusts credit accounts directly against the
ledger database. Privileged operations (grant, refund, reset) require a
ledger credential: a service token or a configured static token.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
		appCfg = cfg
		if _, ok := cmd.Annotations[annotationNoStorage]; ok {
			return nil
		}

		d, cleanup, err := wire.InitializeMaintenance(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to connect ledger storage: %w", err)
		}
		deps, cleanupDeps = d, cleanup
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		cleanupDeps()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerToken, "token", getEnvOrDefault("LEDGER_TOKEN", ""),
		"ledger credential for privileged operations (env LEDGER_TOKEN)")

	rootCmd.AddCommand(balanceCmd, openCmd, grantCmd, refundCmd, resetCmd, auditCmd, reapCmd, tokenCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
