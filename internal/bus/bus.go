package bus

import (
	"fmt"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// New builds the event bus named by the configuration: in-process channels
// for the Community tier, NATS for the Pro tier.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
