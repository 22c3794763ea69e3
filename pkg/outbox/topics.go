package outbox

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

// TopicRouter maps event types to Pub/Sub topics.
type TopicRouter struct {
	topics map[enums.OutboxEventType]string
}

func NewTopicRouter(cfg config.PubSubConfig) (*TopicRouter, error) {
	orders := strings.TrimSpace(cfg.OrdersTopic)
	settlement := strings.TrimSpace(cfg.SettlementTopic)
	returns := strings.TrimSpace(cfg.ReturnsTopic)
	if orders == "" || settlement == "" || returns == "" {
		return nil, fmt.Errorf("orders, settlement and returns topics are required")
	}
	return &TopicRouter{topics: map[enums.OutboxEventType]string{
		enums.EventOrderCreated:          orders,
		enums.EventOrderStatusChanged:    orders,
		enums.EventOrderSettled:          settlement,
		enums.EventLedgerEntryReversed:   settlement,
		enums.EventSellerWithdrawal:      settlement,
		enums.EventSellerClawbackApplied: settlement,
		enums.EventReturnRequested:       returns,
		enums.EventReturnStatusChanged:   returns,
	}}, nil
}

// TopicFor returns the topic configured for eventType.
func (r *TopicRouter) TopicFor(eventType enums.OutboxEventType) (string, error) {
	topic, ok := r.topics[eventType]
	if !ok {
		return "", fmt.Errorf("no topic registered for %s", eventType)
	}
	return topic, nil
}
