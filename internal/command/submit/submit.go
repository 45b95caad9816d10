package submit

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reel/internal/command/root"
	"reel/internal/executor"
	"reel/internal/ingest"
	"reel/internal/probe"
)

var (
	logger = log.WithFields(log.Fields{
		"app":     "submit",
		"version": "dev",
	})
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().String("owner", "", "Catalog record the video belongs to")
	cmd.Flags().Bool("reprocess", false, "Process the owner's stored video again")
	cmd.Flags().Bool("remove", false, "Delete the owner's video and every derived artifact")
	cmd.Flags().Int("max-retries", ingest.DefaultConfig().MaxRetries, "Retries allowed per job")
	cmd.Flags().Int64("max-upload-size", probe.DefaultLimits.MaxSizeBytes, "Largest accepted upload in bytes")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		logger.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Upload a video and queue its processing",
	Long:  `Reel Submit: validate a video, replace the owner's previous one and queue a processing job`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		if owner == "" {
			return fmt.Errorf("--owner is required")
		}

		cmpt := root.GetComponent(true, true, true, viper.GetString("postgres") != "", false)
		defer cmpt.Close()

		stopTracing := root.InitTracing("reel-submit")
		defer stopTracing()

		cfg := ingest.DefaultConfig()
		cfg.Queue = viper.GetString("queue")
		cfg.MaxRetries = viper.GetInt("max-retries")
		cfg.Limits.MaxSizeBytes = viper.GetInt64("max-upload-size")

		inspector := probe.NewInspector(executor.NewExecutor(nil), viper.GetString("ffprobe"))
		service := ingest.NewService(cfg, cmpt.Store, cmpt.Status, cmpt.Channel, cmpt.Catalog, inspector)

		ctx := context.Background()

		switch {
		case viper.GetBool("remove"):
			if err := service.Remove(ctx, owner); err != nil {
				return err
			}

			logger.WithField("owner", owner).Info("video removed")
			return nil
		case viper.GetBool("reprocess"):
			j, err := service.Reprocess(ctx, owner)

			if err != nil {
				return err
			}

			fmt.Println(j.ID)
			return nil
		}

		if len(args) != 1 {
			return fmt.Errorf("a video file is required")
		}

		j, err := service.Upload(ctx, args[0], owner)

		if err != nil {
			return err
		}

		fmt.Println(j.ID)
		return nil
	},
}
