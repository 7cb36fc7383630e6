package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/aura-api/internal/auth"
	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/db"
	"github.com/suPer8Hu/aura-api/internal/moderation"
	"github.com/suPer8Hu/aura-api/internal/preset"
	"github.com/suPer8Hu/aura-api/internal/quota"
	"gorm.io/datatypes"
)

func newMigrateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gdb, err := app.db()
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gdb); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "schema up to date")
			return nil
		},
	}
}

func newTokenCmd(app *App) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.SignJWT(args[0], app.Cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// presetFile is the import format; unlike the API view it carries inference settings.
type presetFile struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	Description    *string        `json:"description"`
	Mode           preset.Mode    `json:"mode"`
	IconURL        *string        `json:"icon_url"`
	ThumbnailURL   *string        `json:"thumbnail_url"`
	IsPremium      bool           `json:"is_premium"`
	IsActive       *bool          `json:"is_active"`
	SortOrder      int            `json:"sort_order"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	PromptTemplate string         `json:"prompt_template"`
	NegativePrompt string         `json:"negative_prompt"`
	Parameters     map[string]any `json:"parameters"`
}

func (f presetFile) toPreset() (preset.Preset, error) {
	if strings.TrimSpace(f.Slug) == "" || strings.TrimSpace(f.Name) == "" {
		return preset.Preset{}, fmt.Errorf("preset %q: name and slug are required", f.Slug)
	}
	if !f.Mode.Valid() {
		return preset.Preset{}, fmt.Errorf("preset %q: invalid mode %q", f.Slug, f.Mode)
	}
	if strings.TrimSpace(f.PromptTemplate) == "" {
		return preset.Preset{}, fmt.Errorf("preset %q: prompt_template is required", f.Slug)
	}
	id := f.ID
	if id == "" {
		id = common.NewUUID()
	} else if !common.IsUUID(id) {
		return preset.Preset{}, fmt.Errorf("preset %q: id must be a uuid", f.Slug)
	}
	provider := f.Provider
	if provider == "" {
		provider = "replicate"
	}
	active := true
	if f.IsActive != nil {
		active = *f.IsActive
	}
	return preset.Preset{
		ID:             id,
		Name:           f.Name,
		Slug:           f.Slug,
		Description:    f.Description,
		Mode:           f.Mode,
		IconURL:        f.IconURL,
		ThumbnailURL:   f.ThumbnailURL,
		IsPremium:      f.IsPremium,
		IsActive:       active,
		SortOrder:      f.SortOrder,
		Provider:       provider,
		Model:          f.Model,
		PromptTemplate: f.PromptTemplate,
		NegativePrompt: f.NegativePrompt,
		Parameters:     datatypes.JSONMap(f.Parameters),
	}, nil
}

func newPresetsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage the preset catalogue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Insert or replace presets from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var files []presetFile
			if err := json.Unmarshal(raw, &files); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			gdb, err := app.db()
			if err != nil {
				return err
			}
			repo := preset.NewRepo(gdb)

			slugs := make([]string, 0, len(files))
			for _, f := range files {
				slugs = append(slugs, f.Slug)
			}
			existing, err := repo.IDsBySlug(cmd.Context(), slugs)
			if err != nil {
				return err
			}

			presets := make([]preset.Preset, 0, len(files))
			for _, f := range files {
				if f.ID == "" {
					f.ID = existing[f.Slug]
				}
				p, err := f.toPreset()
				if err != nil {
					return err
				}
				presets = append(presets, p)
			}
			if err := repo.Upsert(cmd.Context(), presets); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "imported %d presets\n", len(presets))
			return nil
		},
	})
	return cmd
}

func newSubscriptionCmd(app *App) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Manage user entitlements",
	}
	set := &cobra.Command{
		Use:   "set <user-id> <free|pro>",
		Short: "Set a user's tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier := quota.Tier(strings.ToLower(args[1]))
			if tier != quota.TierFree && tier != quota.TierPro {
				return fmt.Errorf("unknown tier %q", args[1])
			}
			var expires *time.Time
			if days > 0 {
				t := time.Now().UTC().AddDate(0, 0, days)
				expires = &t
			}

			gdb, err := app.db()
			if err != nil {
				return err
			}
			if err := quota.SetSubscription(cmd.Context(), gdb, args[0], tier, expires); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "user %s is now %s\n", args[0], tier)
			return nil
		},
	}
	set.Flags().IntVar(&days, "days", 0, "expire after this many days (0 = never)")
	cmd.AddCommand(set)
	return cmd
}

func newBlocklistCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocklist",
		Short: "Manage blocked prompt terms",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <term>...",
		Short: "Block one or more terms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := app.db()
			if err != nil {
				return err
			}
			bl := moderation.NewBlocklist(gdb)
			for _, term := range args {
				if err := bl.Add(cmd.Context(), term); err != nil {
					return err
				}
			}
			fmt.Fprintf(app.Out, "blocked %d terms\n", len(args))
			return nil
		},
	})
	return cmd
}
