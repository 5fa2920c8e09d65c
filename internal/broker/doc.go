// Package broker owns the set of MQTT brokers panels talk to.
//
// Brokers are runtime data: the user edits the list through the API and
// the registry opens one client per enabled broker, closing clients for
// brokers that are disabled or removed. Slots refer to brokers by id, with
// the alias "Default" resolved at publish time to a process-wide setting.
//
// Publishing never fails from the caller's point of view. A publish to an
// unknown or disconnected broker is logged and dropped, and a retained
// publish whose payload equals the last one sent on the same broker and
// topic is suppressed.
//
// The embedded "local" broker (see StartLocal) runs inside the process and
// is listening before any client dials it.
package broker
