// Example standalone worker consuming routed events from an external
// broker. Deployments that publish with the kafka, nats, amqp, or sql
// drivers run one of these per consumer group instead of the gateway's
// in-process worker.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sdlcsquad/pkg/worker"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Comma-separated Kafka brokers")
	group := flag.String("group", "sdlcsquad-example", "Kafka consumer group")
	topics := flag.String("topics", "agent.requirements,agent.qa", "Comma-separated topics")
	flag.Parse()

	logger := log.New(os.Stdout, "sdlcsquad/example-worker ", log.LstdFlags|log.Lmicroseconds)

	w, err := worker.NewFromConfig(worker.SubscriberConfig{
		Driver: "kafka",
		Kafka: worker.KafkaConfig{
			Brokers:       strings.Split(*brokers, ","),
			ConsumerGroup: *group,
		},
	},
		worker.WithTopics(strings.Split(*topics, ",")...),
		worker.WithConcurrency(4),
		worker.WithRetry(worker.NoRetry{}),
		worker.WithListener(worker.Listener{
			OnMessageFinish: func(ctx context.Context, evt *worker.Event, err error) {
				if err != nil {
					logger.Printf("event %s failed: %v", evt.DeliveryID, err)
				}
			},
		}),
		worker.WithDefaultHandler(func(ctx context.Context, evt *worker.Event) error {
			logger.Printf("event type=%s action=%s agent=%s topic=%s", evt.Type, evt.Action, evt.Agent, evt.Topic)
			return nil
		}),
	)
	if err != nil {
		logger.Fatalf("worker: %v", err)
	}
	defer w.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := w.Run(ctx); err != nil {
		logger.Fatalf("run: %v", err)
	}
}
