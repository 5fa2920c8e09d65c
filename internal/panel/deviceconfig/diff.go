package deviceconfig

import (
	"cmp"
	"reflect"
	"slices"
)

// Diff returns the sections of desired that differ from current. A nil
// current, meaning the panel could not be read, yields every section.
func Diff(current *Document, desired Document) Partial {
	want := Normalize(desired)
	var p Partial
	if current == nil {
		p.Core = &want.Core
		p.Buttons = &want.Buttons
		p.DisplayItems = &want.DisplayItems
		p.Sensors = &want.Sensors
		p.Brokers = &want.Brokers
		return p
	}

	have := Normalize(*current)
	if !reflect.DeepEqual(have.Core, want.Core) {
		p.Core = &want.Core
	}
	if !reflect.DeepEqual(have.Buttons, want.Buttons) {
		p.Buttons = &want.Buttons
	}
	if !reflect.DeepEqual(have.DisplayItems, want.DisplayItems) {
		p.DisplayItems = &want.DisplayItems
	}
	if !reflect.DeepEqual(have.Sensors, want.Sensors) {
		p.Sensors = &want.Sensors
	}
	if !reflect.DeepEqual(have.Brokers, want.Brokers) {
		p.Brokers = &want.Brokers
	}
	return p
}

// Equal compares two documents ignoring array order. Info is compared too.
func Equal(a, b Document) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// Normalize returns a deep copy of d with every array sorted and nil
// slices replaced by empty ones.
func Normalize(d Document) Document {
	out := Document{
		Info: Info{
			ID:         d.Info.ID,
			Mac:        d.Info.Mac,
			Firmware:   d.Info.Firmware,
			Connectors: nonNil(slices.Clone(d.Info.Connectors)),
		},
		Core:         Core{Topics: sortTopics(d.Core.Topics)},
		Buttons:      make([]Button, len(d.Buttons)),
		DisplayItems: make([]DisplayItem, len(d.DisplayItems)),
		Sensors:      make([]Sensor, len(d.Sensors)),
		Brokers:      nonNil(slices.Clone(d.Brokers)),
	}
	slices.SortFunc(out.Info.Connectors, func(a, b Connector) int { return cmp.Compare(a.ID, b.ID) })

	for i, b := range d.Buttons {
		b.Topics = sortTopics(b.Topics)
		out.Buttons[i] = b
	}
	slices.SortFunc(out.Buttons, func(a, b Button) int {
		return cmp.Or(cmp.Compare(a.Page, b.Page), cmp.Compare(a.ID, b.ID))
	})

	for i, it := range d.DisplayItems {
		it.Topics = sortTopics(it.Topics)
		out.DisplayItems[i] = it
	}
	slices.SortFunc(out.DisplayItems, func(a, b DisplayItem) int {
		return cmp.Or(
			cmp.Compare(a.Page, b.Page),
			cmp.Compare(a.X, b.X),
			cmp.Compare(a.Y, b.Y),
			cmp.Compare(a.Connector, b.Connector),
			cmp.Compare(a.ID, b.ID),
		)
	})

	for i, s := range d.Sensors {
		s.Topics = sortTopics(s.Topics)
		out.Sensors[i] = s
	}
	slices.SortFunc(out.Sensors, func(a, b Sensor) int { return cmp.Compare(a.SensorID, b.SensorID) })

	slices.SortFunc(out.Brokers, func(a, b Broker) int { return cmp.Compare(a.BrokerID, b.BrokerID) })
	return out
}

func sortTopics(in []Topic) []Topic {
	out := nonNil(slices.Clone(in))
	slices.SortFunc(out, func(a, b Topic) int {
		return cmp.Or(
			cmp.Compare(a.EventType, b.EventType),
			cmp.Compare(a.Topic, b.Topic),
			cmp.Compare(a.BrokerID, b.BrokerID),
			cmp.Compare(a.Payload, b.Payload),
		)
	})
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
