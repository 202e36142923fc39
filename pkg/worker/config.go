package worker

// SubscriberConfig selects and configures the broker the worker consumes
// from. Driver names mirror the gateway's publisher drivers so the two
// sides of a deployment can share one YAML block.
type SubscriberConfig struct {
	Driver  string   `yaml:"driver"`
	Drivers []string `yaml:"drivers"`

	GoChannel GoChannelConfig `yaml:"gochannel"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	NATS      NATSConfig      `yaml:"nats"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	SQL       SQLConfig       `yaml:"sql"`
}

// GoChannelConfig configures the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig configures the Kafka consumer.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig configures the NATS Streaming consumer.
type NATSConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	ClientID       string `yaml:"client_id"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	URL            string `yaml:"url"`
	Durable        string `yaml:"durable"`
}

// AMQPConfig configures the AMQP consumer.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig configures the SQL-backed consumer.
type SQLConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	Dialect          string `yaml:"dialect"`
	ConsumerGroup    string `yaml:"consumer_group"`
	InitializeSchema bool   `yaml:"initialize_schema"`
}
