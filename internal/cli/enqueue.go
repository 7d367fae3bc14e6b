package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/story-publisher/internal/config"
	"github.com/aliskhannn/story-publisher/internal/infra/kafka/producer"
)

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <story-id>...",
		Short: "Put publish requests on the Kafka queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseStoryID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return fmt.Errorf("kafka.brokers is not configured")
			}

			p := producer.New(&cfg.Kafka, retry.Strategy{
				Attempts: cfg.Retry.Attempts,
				Delay:    cfg.Retry.Delay,
				Backoff:  cfg.Retry.Backoff,
			})
			defer p.Client.Close()

			for _, id := range ids {
				if err := p.Enqueue(cmd.Context(), id); err != nil {
					return fmt.Errorf("enqueue story %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued story %d\n", id)
			}

			return nil
		},
	}
}
