package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/authprovider/local"
	userDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/user"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/store"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

var (
	seedEmail    string
	seedPassword string
	seedName     string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bootstrap the first admin account",
	Long:  `Create the initial admin credential and profile so someone can sign in and provision the rest of the users.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if seedPassword == "" {
			log.Fatal("a --password is required")
		}

		logger.Init(cfg.Observability.Logging.Environment, cfg.Observability.Logging.Level)
		lg := logger.LoggerWrapper()

		records, cleanup, err := initStore(cfg.Store)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
		defer func() {
			for _, fn := range cleanup {
				fn()
			}
		}()

		provider := local.New(records, local.Config{
			TokenSecret:   cfg.Auth.TokenSecret,
			TokenTTL:      cfg.Auth.TokenTTL,
			BCryptCost:    cfg.Auth.BCryptCost,
			MaxAttempts:   cfg.Auth.MaxAttempts,
			AttemptWindow: cfg.Auth.AttemptWindow,
		}, lg)
		defer provider.Close()

		ctx, cancel := internal.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		identity, err := provider.CreateAccount(ctx, seedEmail, seedPassword)
		if err != nil {
			if errors.Is(err, internal.ErrEmailInUse) {
				fmt.Println("admin account already exists:", seedEmail)
				return
			}
			log.Fatalf("failed to create admin credential: %v", err)
		}

		if err := provider.UpdateDisplayName(ctx, identity.UID, seedName); err != nil {
			log.Fatalf("failed to set admin display name: %v", err)
		}

		now := time.Now().UTC()
		profile := userDatamodel.Profile{
			Email:       identity.Email,
			DisplayName: seedName,
			Role:        string(rbac.RoleAdmin),
			IsActive:    true,
			CreatedAt:   now,
			CreatedBy:   "seed",
			UpdatedAt:   now,
			UpdatedBy:   "seed",
		}
		if err := store.WriteJSON(ctx, records, store.UserPath(identity.UID), profile); err != nil {
			log.Fatalf("failed to write admin profile: %v", err)
		}

		fmt.Println("Seeded admin user:", identity.Email)
	},
}
