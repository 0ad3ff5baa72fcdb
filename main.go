package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidehq/tide/agent"
	"github.com/tidehq/tide/config"
	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/registry"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for webhook ingestion and run history")
	cmd.Flags().String("storage-impl", "badger", "implementation of underline storage (redis, badger, memory)")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "tide", "namespace used in storage")
	cmd.Flags().String("badger-path", "./tide-data", "data directory for badger storage")
	cmd.Flags().Int("pool-size", 8, "worker pool size bounding concurrent runs")
	cmd.Flags().Duration("tick-interval", time.Second, "scheduler tick interval")
	cmd.Flags().Duration("base-backoff", 10*time.Second, "initial backoff after a failed run")
	cmd.Flags().Duration("max-backoff", 15*time.Minute, "maximum backoff after repeated failures")
	cmd.Flags().Duration("shutdown-grace", 30*time.Second, "grace period for in-flight runs on shutdown")
	cmd.Flags().Duration("dedup-window", 7*24*time.Hour, "retention window for handled item keys")
	cmd.Flags().Duration("delivery-window", 48*time.Hour, "retention window for webhook delivery ids")
	cmd.Flags().Int("run-retention", 1000, "number of run history entries retained")
	cmd.Flags().Duration("prune-interval", time.Hour, "interval between retention pruning passes")
	cmd.Flags().Bool("debug", false, "enable debug logging")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			return err
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.BadgerConfig.Path = viper.GetString("badger-path")
	c.cfg.WorkerPoolSize = viper.GetInt("pool-size")
	c.cfg.TickInterval = viper.GetDuration("tick-interval")
	c.cfg.BaseBackoff = viper.GetDuration("base-backoff")
	c.cfg.MaxBackoff = viper.GetDuration("max-backoff")
	c.cfg.ShutdownGrace = viper.GetDuration("shutdown-grace")
	c.cfg.DedupWindow = viper.GetDuration("dedup-window")
	c.cfg.DeliveryWindow = viper.GetDuration("delivery-window")
	c.cfg.RunRetention = viper.GetInt("run-retention")
	c.cfg.PruneInterval = viper.GetDuration("prune-interval")
	c.cfg.Debug = viper.GetBool("debug")
	if err := viper.UnmarshalKey("webhook-sources", &c.cfg.WebhookSources); err != nil {
		return err
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	logger.Configure(c.cfg.Debug)
	defer logger.Sync()

	agent, err := agent.New(c.cfg.Config, registry.New())
	if err != nil {
		return err
	}
	if err := agent.Start(); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "tide",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
