package status

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"reel/internal/command/root"
	jobstatus "reel/internal/status"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().StringP("output", "o", "yaml", "Output format (yaml, json)")
	cmd.Flags().Bool("latest", false, "Treat the argument as an owner and show its current job")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		log.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmpt := root.GetComponent(true, false, false, false, false)
		defer cmpt.Close()

		id := args[0]

		if viper.GetBool("latest") {
			latest, err := cmpt.Status.Latest(id)

			if err != nil {
				return errors.Wrapf(err, "no current job for owner '%s'", id)
			}

			id = latest
		}

		s, err := cmpt.Status.Status(id)

		if errors.Is(err, jobstatus.ErrNotFound) {
			return errors.Errorf("job '%s' not found", id)
		}

		if err != nil {
			return err
		}

		var out []byte

		switch viper.GetString("output") {
		case "json":
			out, err = json.MarshalIndent(s, "", "  ")
			out = append(out, '\n')
		default:
			out, err = yaml.Marshal(s)
		}

		if err != nil {
			return errors.Wrap(err, "unable to encode status")
		}

		_, err = os.Stdout.Write(out)
		return err
	},
}
