// Package fakemq is a drop-in, in-memory stand-in for an AMQP client
// connection. It exposes the method shapes of
// github.com/rabbitmq/amqp091-go — Publishing, Delivery, Table and the
// Acknowledger interface are the real amqp091 types — but every
// operation executes against a local broker.Broker instead of a network
// broker. Application code written against the real client runs
// unmodified:
//
//	b := broker.New()
//	conn := fakemq.Connect(b)
//	ch, _ := conn.Channel()
//	ch.ExchangeDeclare("events", "topic", true, false, false, false, nil)
//	ch.QueueDeclare("audit", true, false, false, false, nil)
//	ch.QueueBind("audit", "user.#", "events", false, nil)
//	deliveries, _ := ch.Consume("audit", "", true, false, false, false, nil)
//	ch.PublishWithContext(ctx, "events", "user.created", false, false,
//		amqp.Publishing{Body: []byte(`{"id":1}`)})
//	msg := <-deliveries
//
// Because delivery is synchronous and in-process, tests can publish and
// immediately assert on the result with no brokers, containers or
// sleeps.
package fakemq
