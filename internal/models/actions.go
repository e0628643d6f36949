package models

import "strings"

// Known action kinds. The tables below are closed maps keyed by these
// values; ValidateActionTables checks their consistency at startup instead
// of leaving string typos to fail at dispatch time.
const (
	ActionVMCreate         = "vm.create"
	ActionVMClone          = "vm.clone"
	ActionVMDelete         = "vm.delete"
	ActionVMPower          = "vm.power"
	ActionVMEdit           = "vm.edit"
	ActionInventoryRefresh = "inventory.refresh"
	ActionSwitchCreate     = "switch.create"
	ActionConsoleSerial    = "console.serial.open"
	ActionNetTunnel        = "net.tunnel.open"
	ActionEcho             = "echo"
)

// capabilityByAction maps an action to the capability token the target
// agent must advertise. Actions absent from the map fall back to their
// namespace prefix.
var capabilityByAction = map[string]string{
	ActionInventoryRefresh: "inventory",
	ActionVMPower:          "vm.power",
	ActionVMDelete:         "vm.delete",
	ActionVMCreate:         "vm.create",
	ActionVMClone:          "vm.clone",
	ActionEcho:             "echo",
}

// RequiredCapability returns the capability token an agent needs to run the
// given action: the fixed table entry when present, else the action's
// namespace prefix.
func RequiredCapability(action string) string {
	if token, ok := capabilityByAction[action]; ok {
		return token
	}
	if dot := strings.Index(action, "."); dot > 0 {
		return action[:dot]
	}
	return action
}

// refIDRequired lists the actions that target a specific existing resource
// and therefore require target.refId (and, for non-privileged callers, an
// ownership link).
var refIDRequired = map[string]struct{}{
	ActionVMDelete:      {},
	ActionVMPower:       {},
	"vm.start":          {},
	"vm.stop":           {},
	"vm.restart":        {},
	"vm.resize":         {},
	"vm.attach":         {},
	"vm.detach":         {},
	"vm.snapshot":       {},
	"vm.revert":         {},
	"vm.rename":         {},
	ActionVMClone:       {},
	ActionConsoleSerial: {},
	ActionNetTunnel:     {},
}

// ActionRequiresRefID reports whether the action targets a specific
// existing resource.
func ActionRequiresRefID(action string) bool {
	_, ok := refIDRequired[strings.ToLower(action)]
	return ok
}

// KnownActions returns the closed set of action kinds this controller
// understands.
func KnownActions() map[string]struct{} {
	return map[string]struct{}{
		ActionVMCreate:         {},
		ActionVMClone:          {},
		ActionVMDelete:         {},
		ActionVMPower:          {},
		ActionVMEdit:           {},
		ActionInventoryRefresh: {},
		ActionSwitchCreate:     {},
		ActionConsoleSerial:    {},
		ActionNetTunnel:        {},
		ActionEcho:             {},
		"vm.start":             {},
		"vm.stop":              {},
		"vm.restart":           {},
		"vm.resize":            {},
		"vm.attach":            {},
		"vm.detach":            {},
		"vm.snapshot":          {},
		"vm.revert":            {},
		"vm.rename":            {},
	}
}

// ValidateActionTables verifies the dispatch tables only reference known
// actions. Called once at startup.
func ValidateActionTables() error {
	known := KnownActions()
	for a := range capabilityByAction {
		if _, ok := known[a]; !ok {
			return &UnknownActionError{Action: a, Table: "capability"}
		}
	}
	for a := range refIDRequired {
		if _, ok := known[a]; !ok {
			return &UnknownActionError{Action: a, Table: "refId"}
		}
	}
	return nil
}

// UnknownActionError reports a dispatch table entry that references an
// action outside the closed set.
type UnknownActionError struct {
	Action string
	Table  string
}

func (e *UnknownActionError) Error() string {
	return "unknown action " + e.Action + " in " + e.Table + " table"
}
