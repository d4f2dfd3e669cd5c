package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/portfolio-engine/internal/api/middleware"
	"github.com/kiranshivaraju/portfolio-engine/internal/config"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// keyCreator is the slice of the store that issuing a key needs.
type keyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

func newAPIKeyCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	var (
		name   string
		scopes []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key and print it once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			pool, err := store.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			return createAPIKey(cmd.Context(), store.NewPostgresStore(pool), cmd.OutOrStdout(), name, scopes, time.Now())
		},
	}
	create.Flags().StringVar(&name, "name", "", "human-readable key name")
	create.Flags().StringSliceVar(&scopes, "scopes", []string{mw.ScopeRead, mw.ScopeWrite}, "comma-separated scopes (read, write)")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}

func createAPIKey(ctx context.Context, keys keyCreator, out io.Writer, name string, scopes []string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("key name is required")
	}
	for _, s := range scopes {
		if s != mw.ScopeRead && s != mw.ScopeWrite {
			return fmt.Errorf("unknown scope %q", s)
		}
	}
	if len(scopes) == 0 {
		return errors.New("at least one scope is required")
	}

	raw, err := generateKey()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash api key: %w", err)
	}

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:8],
		Scopes:    slices.Compact(slices.Sorted(slices.Values(scopes))),
		CreatedAt: now.UTC(),
	}
	if err := keys.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}

	fmt.Fprintf(out, "id:     %s\nscopes: %s\nkey:    %s\n", key.ID, strings.Join(key.Scopes, ","), raw)
	fmt.Fprintln(out, "Store this key now; it cannot be shown again.")
	return nil
}

// generateKey returns "pe_" followed by 48 hex characters.
func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return mw.KeyPrefix + hex.EncodeToString(buf), nil
}
