package mq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestDeliveryAttempts_NoHeaders(t *testing.T) {
	assert.Zero(t, deliveryAttempts(nil))
	assert.Zero(t, deliveryAttempts(amqp.Table{}))
}

func TestDeliveryAttempts_CountsRejections(t *testing.T) {
	headers := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"reason": "rejected", "count": int64(2), "queue": "telemetry.ingest"},
		},
	}

	assert.Equal(t, int64(2), deliveryAttempts(headers))
}

func TestDeliveryAttempts_IgnoresTTLExpiries(t *testing.T) {
	// Each retry pass records both a rejection from the ingest queue and an
	// expiry from the retry queue. Only the rejections are attempts.
	headers := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"reason": "rejected", "count": int64(2), "queue": "telemetry.ingest"},
			amqp.Table{"reason": "expired", "count": int64(2), "queue": "telemetry.ingest.retry"},
		},
	}

	assert.Equal(t, int64(2), deliveryAttempts(headers))
}

func TestDeliveryAttempts_MalformedEntriesSkipped(t *testing.T) {
	headers := amqp.Table{
		"x-death": []interface{}{
			"not a table",
			amqp.Table{"reason": "rejected"},
			amqp.Table{"reason": "rejected", "count": int64(1)},
		},
	}

	assert.Equal(t, int64(1), deliveryAttempts(headers))
}
