package events

import (
	"github.com/samber/do/v2"

	"live-speech-relay/internal/config"
)

// RegisterDI provides the transcript Publisher.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Publisher, error) {
		c := do.MustInvoke[*config.Config](i)
		return New(&Config{
			Enabled:      c.Kafka.Enabled,
			Brokers:      c.Kafka.Brokers,
			TopicPartial: c.Kafka.TopicPartial,
			TopicFinal:   c.Kafka.TopicFinal,
			Principal:    c.Kafka.Principal,
		}), nil
	})
}
