package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"agent-credit-api/internal/config"
	"agent-credit-api/internal/domain/entity"
	"agent-credit-api/internal/wire"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 初始化数据层（仅 PostgreSQL）
	deps, cleanup, err := wire.InitializeMaintenance(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	// 3. 迁移额度账户、审计日志与批处理任务表
	if err := deps.PgClient.AutoMigrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	fmt.Println("Schema migrated.")

	// 4. 可选：为首个账户开户
	userID := os.Getenv("BOOTSTRAP_USER_ID")
	if userID == "" {
		fmt.Println("BOOTSTRAP_USER_ID not set, skipping account seed.")
		fmt.Println("Bootstrap completed successfully.")
		return
	}

	tier := entity.PlanTier(os.Getenv("BOOTSTRAP_PLAN_TIER"))
	if tier == "" {
		tier = entity.PlanTier(cfg.Credits.DefaultPlanTier)
	}
	grant := decimal.NewFromFloat(cfg.Credits.SignupGrant)
	if raw := os.Getenv("BOOTSTRAP_GRANT"); raw != "" {
		grant, err = decimal.NewFromString(raw)
		if err != nil {
			log.Fatalf("invalid BOOTSTRAP_GRANT %q: %v", raw, err)
		}
	}

	account, err := deps.Ledger.OpenAccount(ctx, userID, tier, grant)
	if err != nil {
		log.Fatalf("failed to open account: %v", err)
	}
	fmt.Printf("Account %s ready: tier=%s added=%s used=%s\n",
		account.UserID, account.PlanTier, account.CreditsAdded, account.CreditsUsed)

	fmt.Println("Bootstrap completed successfully.")
}
