package monitor

import (
	"context"
	"os"
	"time"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reel/internal/command/root"
	"reel/internal/metric"
	"reel/internal/signal"
	"reel/internal/worker"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().String("rabbitmq-admin", "http://rabbitmq:15672", "RabbitMQ management URL")
	cmd.PersistentFlags().String("rabbitmq-user", "guest", "RabbitMQ management user")
	cmd.PersistentFlags().String("rabbitmq-pass", "guest", "RabbitMQ management password")
	cmd.PersistentFlags().String("rabbitmq-vhost", "/", "RabbitMQ virtual host")
	cmd.PersistentFlags().String("monitor-dir", worker.DefaultConfig().WorkDir, "Directory whose disk is watched")
	cmd.PersistentFlags().Duration("monitor-interval", 10*time.Second, "Sampling interval")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag biding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "monitor",
	Short: "Report queue depth and host usage",
	Long:  `Reel Monitor: sample the job queue depth and the worker host resources as metrics`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info("starting monitor")

		cmpt := root.GetComponent(false, false, false, false, true)
		defer cmpt.Close()

		rmqc, err := rabbithole.NewClient(viper.GetString("rabbitmq-admin"), viper.GetString("rabbitmq-user"), viper.GetString("rabbitmq-pass"))

		if err != nil {
			log.WithError(err).Fatal("rabbitmq admin client")
		}

		log.Infof("connected to RabbitMQ admin '%s'", viper.GetString("rabbitmq-admin"))

		hostname, _ := os.Hostname()

		m := newMonitor(cmpt.Metric, rmqc, hostname)
		m.Run(signal.WatchInterrupt(context.Background(), 10*time.Second))
	},
}

type monitor struct {
	metric metric.Client
	rmqc   *rabbithole.Client
	queue  string
	vhost  string
	dir    string

	ready    *metric.GaugeMetric
	unacked  *metric.GaugeMetric
	diskFree *metric.GaugeMetric
	diskUsed *metric.GaugeMetric
	memUsed  *metric.GaugeMetric
	cpuUsed  *metric.GaugeMetric
}

func newMonitor(client metric.Client, rmqc *rabbithole.Client, hostname string) *monitor {
	tags := metric.Tags{"hostname": hostname}

	m := &monitor{
		metric: client,
		rmqc:   rmqc,
		queue:  viper.GetString("queue"),
		vhost:  viper.GetString("rabbitmq-vhost"),
		dir:    viper.GetString("monitor-dir"),

		ready:    metric.NewGauge("reel_queue_ready", metric.Tags{"queue": viper.GetString("queue")}),
		unacked:  metric.NewGauge("reel_queue_unacked", metric.Tags{"queue": viper.GetString("queue")}),
		diskFree: metric.NewGauge("reel_host_disk_free_bytes", tags),
		diskUsed: metric.NewGauge("reel_host_disk_used_percent", tags),
		memUsed:  metric.NewGauge("reel_host_memory_used_percent", tags),
		cpuUsed:  metric.NewGauge("reel_host_cpu_used_percent", tags),
	}

	for _, g := range []*metric.GaugeMetric{m.ready, m.unacked, m.diskFree, m.diskUsed, m.memUsed, m.cpuUsed} {
		client.Add(g)
	}

	return m
}

func (m *monitor) Run(ctx context.Context) {
	interval := viper.GetDuration("monitor-interval")

	go m.metric.Ticker(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("monitor started")

loop:
	for {
		m.sample(ctx)

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			continue
		}
	}

	log.Info("monitor stopped")
}

func (m *monitor) sample(ctx context.Context) {
	fields := log.Fields{}

	if info, err := m.rmqc.GetQueue(m.vhost, m.queue); err != nil {
		log.WithError(err).Error("get queue info")
	} else {
		m.ready.Set(int64(info.MessagesReady))
		m.unacked.Set(int64(info.MessagesUnacknowledged))
		fields["ready"] = info.MessagesReady
		fields["unacked"] = info.MessagesUnacknowledged
	}

	if usage, err := disk.UsageWithContext(ctx, m.dir); err != nil {
		log.WithError(err).Errorf("disk usage of '%s'", m.dir)
	} else {
		m.diskFree.Set(int64(usage.Free))
		m.diskUsed.Set(int64(usage.UsedPercent))
		fields["disk_free"] = usage.Free
	}

	if memStats, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		log.WithError(err).Error("memory usage")
	} else {
		m.memUsed.Set(int64(memStats.UsedPercent))
		fields["memory"] = memStats.UsedPercent
	}

	if cpuPercents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		log.WithError(err).Error("cpu usage")
	} else if len(cpuPercents) > 0 {
		m.cpuUsed.Set(int64(cpuPercents[0]))
		fields["cpu"] = cpuPercents[0]
	}

	log.WithFields(fields).Debug("sample")
}
