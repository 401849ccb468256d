package main

import (
	"context"
	"fmt"
	"time"

	"civicvoice/internal/pkg/events"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// newRedis 连接配置中的 Redis，测试中会被替换。
var newRedis = func(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

func newEventsCmd() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect domain events kept in the Redis stream",
	}

	var count int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent domain events, newest first",
		Long: `Print recent events from the Redis stream used when no Kafka brokers are configured.

Examples:
  civicctl events tail --count 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if len(cfg.Kafka.Brokers) > 0 {
				printf(cmd.ErrOrStderr(), "warning: kafka brokers are configured, the stream may be empty\n")
			}
			rdb := newRedis(cfg.Redis.Addr, cfg.Redis.Password)
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			pub := events.NewStreamPublisher(rdb, cfg.Kafka.TopicPrefix+":events", nil)
			recs, err := pub.Recent(ctx, count)
			if err != nil {
				return err
			}
			for _, r := range recs {
				printf(cmd.OutOrStdout(), "%s  %-24s %-38s %s\n",
					r.OccurredAt.Local().Format(time.RFC3339), r.Type, r.Key, string(r.Data))
			}
			return nil
		},
	}
	tail.Flags().Int64Var(&count, "count", 20, "number of events to print")
	eventsCmd.AddCommand(tail)
	return eventsCmd
}
