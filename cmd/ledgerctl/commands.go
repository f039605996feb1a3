package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"agent-credit-api/internal/application/audit"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/pkg/utils"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show the balance of a credit account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := deps.Ledger.GetBalance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintf(w, "USER\t%s\n", b.UserID)
		fmt.Fprintf(w, "PLAN\t%s\n", b.PlanTier)
		fmt.Fprintf(w, "ADDED\t%s\n", b.CreditsAdded)
		fmt.Fprintf(w, "USED\t%s\n", b.CreditsUsed)
		fmt.Fprintf(w, "PRE-AUTHORIZED\t%s\n", b.PreAuthorized)
		fmt.Fprintf(w, "AVAILABLE\t%s\n", b.Available)
		return nil
	},
}

var (
	openTier  string
	openGrant string
)

var openCmd = &cobra.Command{
	Use:   "open <user-id>",
	Short: "Open a credit account (idempotent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grant, err := parseAmount(openGrant)
		if err != nil {
			return err
		}
		account, err := deps.Ledger.OpenAccount(cmd.Context(), args[0], entity.PlanTier(openTier), grant)
		if err != nil {
			return err
		}
		fmt.Printf("account %s open: tier=%s added=%s\n", account.UserID, account.PlanTier, account.CreditsAdded)
		return nil
	},
}

var grantSource string

var grantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Add purchased or promotional credits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if err := deps.Ledger.AddCredits(cmd.Context(), args[0], amount, ledgerToken, grantSource); err != nil {
			return err
		}
		fmt.Printf("granted %s credits to %s\n", amount, args[0])
		return nil
	},
}

var refundReason string

var refundCmd = &cobra.Command{
	Use:   "refund <user-id> <amount>",
	Short: "Refund used credits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if err := deps.Ledger.RefundCredits(cmd.Context(), args[0], amount, refundReason, ledgerToken); err != nil {
			return err
		}
		fmt.Printf("refunded up to %s credits to %s\n", amount, args[0])
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <user-id> <plan-amount>",
	Short: "Apply the monthly reset with rollover",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if err := deps.Ledger.ResetMonthlyCredits(cmd.Context(), args[0], amount, ledgerToken); err != nil {
			return err
		}
		fmt.Printf("monthly reset applied to %s with plan amount %s\n", args[0], amount)
		return nil
	},
}

var (
	auditTypes    []string
	auditPage     int
	auditPageSize int
)

var auditCmd = &cobra.Command{
	Use:   "audit <user-id>",
	Short: "List audit log entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := deps.Audit.List(cmd.Context(), audit.Query{
			UserID:   args[0],
			Types:    auditTypes,
			Page:     auditPage,
			PageSize: auditPageSize,
		})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "TIME\tTYPE\tAMOUNT\tBEFORE\tAFTER\tDESCRIPTION")
		for _, l := range result.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				l.CreatedAt.Format(time.RFC3339), l.OperationType, l.Amount,
				l.BalanceBefore, l.BalanceAfter, l.Description)
		}
		fmt.Fprintf(w, "\npage %d/%d, %d entries\n", result.Page, result.TotalPages, result.Total)
		return nil
	},
}

var reapOlderThan time.Duration

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail stale processing batch jobs and release their holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := deps.Orchestrator.ReapStaleJobs(cmd.Context(), reapOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("reaped %d stale batch jobs\n", n)
		return nil
	},
}

var (
	tokenRole   string
	tokenScopes []string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:         "token <subject>",
	Short:       "Mint a service token for privileged ledger calls",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationNoStorage: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		jwtCfg := appCfg.Security.JWT
		if jwtCfg.Secret == "" {
			return fmt.Errorf("security.jwt.secret is not configured")
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = jwtCfg.Expiration
		}
		token, err := utils.NewJWTManager(jwtCfg.Secret, jwtCfg.Issuer).GenerateServiceToken(args[0], tokenRole, tokenScopes, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

func init() {
	openCmd.Flags().StringVar(&openTier, "tier", string(entity.PlanTierFree), "plan tier (free, pro, team, enterprise)")
	openCmd.Flags().StringVar(&openGrant, "grant", "0", "initial credit grant")

	grantCmd.Flags().StringVar(&grantSource, "source", "ledgerctl", "grant source recorded in the audit log")

	refundCmd.Flags().StringVar(&refundReason, "reason", "", "refund reason (required)")
	_ = refundCmd.MarkFlagRequired("reason")

	auditCmd.Flags().StringSliceVar(&auditTypes, "type", nil, "operation types to include (repeatable)")
	auditCmd.Flags().IntVar(&auditPage, "page", 1, "page number")
	auditCmd.Flags().IntVar(&auditPageSize, "page-size", 20, "page size")

	tokenCmd.Flags().StringVar(&tokenRole, "role", "billing", "service role embedded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{"*"}, "ledger operations the token may perform, * for all (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to security.jwt.expiration)")

	reapCmd.Flags().DurationVar(&reapOlderThan, "older-than", 30*time.Minute, "fail processing jobs with no progress for this long")
}
