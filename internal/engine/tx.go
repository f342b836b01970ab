package engine

// Tx is a graph-mutation transaction. Every operation is validated against
// the graph as edited so far and fails immediately on error; nothing is
// applied to the real graph until the transaction commits.
type Tx struct {
	shadow *topology
	ops    []func(g *Graph)
}

// AddUnit registers a unit.
func (tx *Tx) AddUnit(u Unit) error {
	if err := tx.shadow.checkAdd(u); err != nil {
		return err
	}
	tx.shadow.add(u)
	tx.ops = append(tx.ops, func(g *Graph) { g.addLocked(u) })
	return nil
}

// Connect creates a slot from producer.output to consumer.input.
func (tx *Tx) Connect(producer, output, consumer, input string, opts ...SlotOption) error {
	e := newEdge(producer, output, consumer, input, opts)
	if err := tx.shadow.checkConnect(e); err != nil {
		return err
	}
	tx.shadow.connect(e)
	tx.ops = append(tx.ops, func(g *Graph) { g.connectLocked(e) })
	return nil
}

// DeleteUnits removes units and their slots.
func (tx *Tx) DeleteUnits(names ...string) error {
	if err := tx.shadow.checkDelete(names); err != nil {
		return err
	}
	tx.shadow.remove(names)
	names = append([]string(nil), names...)
	tx.ops = append(tx.ops, func(g *Graph) { g.deleteLocked(names) })
	return nil
}

// CollateralRemoval previews removal against the graph as edited so far.
func (tx *Tx) CollateralRemoval(names ...string) ([]string, error) {
	if err := tx.shadow.checkDelete(names); err != nil {
		return nil, err
	}
	return tx.shadow.collateral(names), nil
}

// Unit returns a unit by name, including units added in this transaction.
func (tx *Tx) Unit(name string) (Unit, bool) {
	u, ok := tx.shadow.units[name]
	return u, ok
}
