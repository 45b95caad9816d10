package cleanup

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reel/internal/command/root"
	"reel/internal/janitor"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().Bool("delete", false, "Delete orphaned objects instead of listing them")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		log.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Find objects no catalog record refers to",
	Long:  `Reel Cleanup: list, and optionally delete, stored objects of assets unknown to the catalog`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmpt := root.GetComponent(false, false, true, true, false)
		defer cmpt.Close()

		report, err := janitor.New(cmpt.Store, cmpt.Catalog).Sweep(context.Background(), !viper.GetBool("delete"))

		if err != nil {
			return err
		}

		var buckets []string

		for bucket := range report.Orphans {
			buckets = append(buckets, bucket)
		}

		sort.Strings(buckets)

		for _, bucket := range buckets {
			for _, key := range report.Orphans[bucket] {
				fmt.Printf("%s/%s\n", bucket, key)
			}
		}

		return nil
	},
}
