package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reel/internal/command/root"
	"reel/internal/stream"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.Flags().String("owner", "", "Catalog record the video belongs to")
	cmd.Flags().String("quality", "", "Rendition quality, for playlist and segment")
	cmd.Flags().StringP("out", "O", "", "Write to a file instead of stdout")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		log.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "fetch manifest|playlist|segment <n>|thumbnails|thumbnail <t>",
	Short: "Read a playback artifact",
	Long:  `Reel Fetch: serve the master playlist, rendition playlists, segments and thumbnails of a completed video`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		if owner == "" {
			return fmt.Errorf("--owner is required")
		}

		cmpt := root.GetComponent(false, false, true, true, false)
		defer cmpt.Close()

		reader, err := resolve(context.Background(), stream.NewResolver(cmpt.Store, cmpt.Catalog), owner, args)

		if err != nil {
			return err
		}

		defer reader.Close()

		var out io.Writer = os.Stdout

		if path := viper.GetString("out"); path != "" {
			file, err := os.Create(path)

			if err != nil {
				return errors.Wrapf(err, "unable to create '%s'", path)
			}

			defer file.Close()
			out = file
		}

		_, err = io.Copy(out, reader)
		return err
	},
}

func resolve(ctx context.Context, r *stream.Resolver, owner string, args []string) (io.ReadCloser, error) {
	quality := viper.GetString("quality")

	index := func() (int, error) {
		if len(args) < 2 {
			return 0, errors.Errorf("%s requires a number", args[0])
		}

		return strconv.Atoi(args[1])
	}

	switch args[0] {
	case "manifest":
		data, err := r.Manifest(ctx, owner)
		return bytesReader(data), err
	case "playlist":
		data, err := r.RenditionPlaylist(ctx, owner, quality)
		return bytesReader(data), err
	case "segment":
		n, err := index()

		if err != nil {
			return nil, err
		}

		return r.Segment(ctx, owner, quality, n)
	case "thumbnails":
		ts, err := r.Thumbnails(ctx, owner)

		if err != nil {
			return nil, err
		}

		var b strings.Builder

		for _, t := range ts {
			fmt.Fprintln(&b, t)
		}

		return io.NopCloser(strings.NewReader(b.String())), nil
	case "thumbnail":
		t, err := index()

		if err != nil {
			return nil, err
		}

		return r.Thumbnail(ctx, owner, t)
	}

	return nil, errors.Errorf("unknown artifact '%s'", args[0])
}

func bytesReader(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}
