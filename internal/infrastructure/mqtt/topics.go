package mqtt

import "fmt"

// TopicPrefix is the root for topics owned by this service itself.
// Panel and hub-mirror topics are built by the panel package.
const TopicPrefix = "panelsync"

// Topics builds service-level topic strings.
type Topics struct{}

// SystemStatus carries the retained online/offline status (also the LWT topic).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// FlowTrigger is where fired automation triggers are announced.
func (Topics) FlowTrigger(panelID, trigger string) string {
	return fmt.Sprintf("%s/flow/%s/%s", TopicPrefix, panelID, trigger)
}
