package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/shapespectre/internal/atlas"
)

type atlasOptions struct {
	PublicKey  string
	PrivateKey string
}

func resolveAtlasOptions(opts atlasOptions) atlasOptions {
	resolved := atlasOptions{
		PublicKey:  strings.TrimSpace(opts.PublicKey),
		PrivateKey: strings.TrimSpace(opts.PrivateKey),
	}
	if resolved.PublicKey == "" {
		resolved.PublicKey = strings.TrimSpace(os.Getenv(atlas.EnvPublicKey))
	}
	if resolved.PrivateKey == "" {
		resolved.PrivateKey = strings.TrimSpace(os.Getenv(atlas.EnvPrivateKey))
	}
	return resolved
}

func newFederationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "federation",
		Short: "Manage Atlas Data Federation instances",
	}
	cmd.AddCommand(newRetargetCmd())
	return cmd
}

func newRetargetCmd() *cobra.Command {
	var (
		opts   atlasOptions
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "retarget <project-id> <tenant> <cluster>",
		Short: "Point a federated instance at a single Atlas cluster",
		Long: "Replaces the storage configuration of a Data Federation instance with one Atlas store " +
			"for the cluster, mapped as *.* and read from secondaries. Other settings except the cloud " +
			"provider config and region are dropped.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, tenant, clusterName := args[0], args[1], args[2]

			resolved := resolveAtlasOptions(opts)
			client, err := newAtlasClient(atlas.Config{
				PublicKey:   resolved.PublicKey,
				PrivateKey:  resolved.PrivateKey,
				BaseURL:     cfg.Atlas.BaseURL,
				RateLimitMS: cfg.Atlas.RateLimitMS,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cluster, err := client.GetCluster(ctx, projectID, clusterName)
			if err != nil {
				if atlas.IsStatus(err, http.StatusNotFound) {
					return fmt.Errorf("cluster %q not found in project %s", clusterName, projectID)
				}
				return fmt.Errorf("get cluster: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Cluster %s (MongoDB %s, %s)\n",
				cluster.Name, cluster.MongoDBVersion, cluster.StateName)

			var inst atlas.FederatedInstance
			if dryRun {
				current, err := client.GetFederatedInstance(ctx, projectID, tenant)
				if err != nil {
					return fmt.Errorf("get federated instance %s: %w", tenant, err)
				}
				inst = atlas.RetargetStorage(current, projectID, clusterName)
			} else {
				inst, err = client.Retarget(ctx, projectID, tenant, clusterName)
				if err != nil {
					return err
				}
				logger.Info("federated instance retargeted",
					zap.String("tenant", tenant),
					zap.String("cluster", clusterName))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(inst)
		},
	}

	cmd.Flags().StringVar(&opts.PublicKey, "public-key", "", "Atlas API public key (or set "+atlas.EnvPublicKey+")")
	cmd.Flags().StringVar(&opts.PrivateKey, "private-key", "", "Atlas API private key (or set "+atlas.EnvPrivateKey+")")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the new configuration without applying it")

	return cmd
}
