package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

func createAdminCmd(factory serviceFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an account holding the Admin and User roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			svc, cleanup, err := factory(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer cleanup()

			cred, err := svc.RegisterAdmin(cmd.Context(), simpleassets.RegisterRequest{
				Username: username,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return fmt.Errorf("failed to create admin: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s with roles %v\n", cred.Username, cred.Roles)
			return nil
		},
	}
	cmd.Flags().String("username", "", "account username")
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func listAssetsCmd(factory serviceFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-assets",
		Short: "List stored assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			useJSON, _ := cmd.Flags().GetBool("json")

			svc, cleanup, err := factory(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer cleanup()

			var assets []*simpleassets.AssetMetadata
			for meta, err := range svc.ListAssets(cmd.Context()) {
				if err != nil {
					return fmt.Errorf("failed to list assets: %w", err)
				}
				assets = append(assets, meta)
			}

			out := cmd.OutOrStdout()
			if useJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(assets)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tFILENAME\tTYPE\tLENGTH\tCHUNKS\tUPLOADED\n")
			for _, meta := range assets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					meta.ID,
					truncate(meta.FileName, 30),
					meta.ContentType,
					meta.Length,
					meta.ChunkCount,
					meta.UploadedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(out, "\nTotal: %d\n", len(assets))
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func gcCmd(factory serviceFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove chunks left behind by interrupted uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			svc, cleanup, err := factory(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer cleanup()

			n, err := svc.CollectOrphans(cmd.Context(), olderThan)
			if err != nil {
				return fmt.Errorf("failed to collect orphans: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d orphaned uploads\n", n)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 24*time.Hour, "only remove uploads started before this age")
	return cmd
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
