package broker

// ExchangeDeclaration defines an exchange to be declared.
type ExchangeDeclaration struct {
	Name string
	Type ExchangeType
}

// QueueDeclaration defines a queue to be declared.
type QueueDeclaration struct {
	Name string
}

// Binding defines a queue-to-exchange binding.
type Binding struct {
	Queue    string
	Exchange string
	Pattern  string
}

// Topology is a complete set of declarations, applied in dependency
// order: exchanges, then queues, then bindings.
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// ExchangeDeclare creates the named exchange if absent. Redeclaring with
// the same type is a no-op; redeclaring with a different type fails with
// ErrExchangeTypeMismatch and leaves the original exchange intact.
func (b *Broker) ExchangeDeclare(name string, typ ExchangeType) error {
	if _, err := ParseExchangeType(string(typ)); err != nil {
		return &TopologyError{Component: "exchange", Name: name, Op: "declare", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.exchanges[name]; ok {
		if existing.typ != typ {
			return &TopologyError{Component: "exchange", Name: name, Op: "declare", Err: ErrExchangeTypeMismatch}
		}
		return nil
	}
	b.exchanges[name] = newExchange(name, typ)
	b.logger.Debug("exchange declared", "exchange", name, "type", typ)
	return nil
}

// QueueDeclare creates the named queue if absent. Redeclaring returns the
// existing queue unchanged.
func (b *Broker) QueueDeclare(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q
	}
	q := newQueue(name)
	b.queues[name] = q
	b.logger.Debug("queue declared", "queue", name)
	return q
}

// QueueBind binds the named queue to the exchange under pattern. Both the
// exchange and the queue must already be declared. Binding the same
// triple twice is a no-op.
func (b *Broker) QueueBind(queue, exchange, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchange]
	if !ok {
		return &TopologyError{Component: "binding", Name: exchange, Op: "bind", Err: ErrExchangeNotFound}
	}
	if _, ok := b.queues[queue]; !ok {
		return &TopologyError{Component: "binding", Name: queue, Op: "bind", Err: ErrQueueNotFound}
	}
	ex.bind(pattern, queue)
	b.logger.Debug("queue bound", "queue", queue, "exchange", exchange, "pattern", pattern)
	return nil
}

// DeclareTopology applies a complete topology.
func (b *Broker) DeclareTopology(topology Topology) error {
	for _, ex := range topology.Exchanges {
		if err := b.ExchangeDeclare(ex.Name, ex.Type); err != nil {
			return err
		}
	}
	for _, q := range topology.Queues {
		b.QueueDeclare(q.Name)
	}
	for _, bind := range topology.Bindings {
		if err := b.QueueBind(bind.Queue, bind.Exchange, bind.Pattern); err != nil {
			return err
		}
	}
	return nil
}
