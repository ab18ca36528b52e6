package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

func retryQueue(queue string) string { return queue + ".retry" }
func dlqQueue(queue string) string   { return queue + ".dlq" }

// declareTopology declares the main queue with its retry and dead-letter
// queues. Publisher and consumer declare the same arguments.
func declareTopology(ch *amqp.Channel, queue string) error {
	// DLQ
	if _, err := ch.QueueDeclare(dlqQueue(queue), true, false, false, false, nil); err != nil {
		return err
	}

	// Retry queue: expired messages dead-letter back to the main queue
	if _, err := ch.QueueDeclare(retryQueue(queue), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return err
	}

	// Main queue: reject/nack(requeue=false) dead-letters to the DLQ
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQueue(queue),
	})
	return err
}
