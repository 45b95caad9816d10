package worker

import (
	"context"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reel/internal/command/root"
	"reel/internal/executor"
	"reel/internal/metric"
	"reel/internal/pipeline"
	"reel/internal/signal"
	"reel/internal/worker"
)

var (
	logger = log.WithFields(log.Fields{
		"app":     "worker",
		"version": "dev",
	})
)

func init() {
	root.Cmd.AddCommand(cmd)

	defaults := worker.DefaultConfig()

	cmd.PersistentFlags().Int("concurrency", defaults.Concurrency, "Jobs processed in parallel")
	cmd.PersistentFlags().Duration("poll-interval", defaults.PollInterval, "Wait between two empty polls")
	cmd.PersistentFlags().Duration("retry-delay", defaults.RetryDelay, "Base delay before a retry, multiplied by the retry number")
	cmd.PersistentFlags().Duration("soft-limit", defaults.SoftLimit, "Attempt duration after which no new phase starts")
	cmd.PersistentFlags().Duration("hard-limit", defaults.HardLimit, "Attempt duration after which the running process is killed")
	cmd.PersistentFlags().String("work-dir", defaults.WorkDir, "Local scratch directory")
	cmd.PersistentFlags().Duration("shutdown-delay", 25*time.Second, "Grace period before a forced exit")
	cmd.PersistentFlags().Bool("ffmpeg-log", false, "Copy child process output to stderr")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		logger.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued jobs",
	Long:  `Reel Worker: consume queued jobs and produce HLS renditions, master playlist and thumbnails`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("starting worker")

		cmpt := root.GetComponent(true, true, true, viper.GetString("postgres") != "", true)
		defer cmpt.Close()

		stopTracing := root.InitTracing("reel-worker")
		defer stopTracing()

		hostname, _ := os.Hostname()

		cfg := worker.Config{
			Queue:        viper.GetString("queue"),
			Concurrency:  viper.GetInt("concurrency"),
			PollInterval: viper.GetDuration("poll-interval"),
			RetryDelay:   viper.GetDuration("retry-delay"),
			SoftLimit:    viper.GetDuration("soft-limit"),
			HardLimit:    viper.GetDuration("hard-limit"),
			WorkDir:      viper.GetString("work-dir"),
			Hostname:     hostname,
		}

		var output io.Writer

		if viper.GetBool("ffmpeg-log") {
			output = os.Stderr
		}

		runner := pipeline.NewFFmpeg(cmpt.Store, executor.NewExecutor(output), viper.GetString("ffmpeg"), viper.GetString("ffprobe"))

		run(cmpt.Metric, worker.NewPool(cfg, cmpt.Channel, cmpt.Status, cmpt.Catalog, runner, cmpt.Metric), hostname)
	},
}

func run(client metric.Client, pool *worker.Pool, hostname string) {
	ctx := signal.WatchInterrupt(context.Background(), viper.GetDuration("shutdown-delay"))

	tickerCtx, stopTicker := context.WithCancel(context.Background())
	defer stopTicker()

	go client.Ticker(tickerCtx, time.Second)

	started := time.Now()

	logger.Info("worker started")

	if err := pool.Run(ctx); err != nil {
		logger.WithError(err).Error("worker pool stopped")
	}

	logger.Info("worker stopped")

	durationMetric := &metric.DurationMetric{
		RowMetric: metric.RowMetric{Name: "reel_worker_duration", Tags: metric.Tags{"hostname": hostname}},
		Duration:  time.Since(started),
	}
	client.Send(durationMetric.Metric())
}
