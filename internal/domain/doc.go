// Package domain defines the core types of the patchbay sequencer model.
//
// # Addressing
//
// Address is the volatile (client, port) pair assigned by the ALSA
// sequencer. Clients and ports are renumbered whenever hardware is
// replugged, so addresses are never used as long-lived keys outside the
// identity registry.
//
// PortID and ModuleID are stable identities handed out by the registry from
// monotonically increasing counters. A duplex hardware port is modeled as
// two ports, one per Direction, so a PortID always corresponds to an
// (Address, Direction) pair.
//
// # Model
//
// Module groups the ports of one sequencer client. A client is represented
// by a single input_output module, or by separate input and output modules
// when its ports are split by direction.
//
// Connection is a live subscription from an output port to an input port.
//
// # Events and deltas
//
// Event is a normalized hardware notification as it travels through the
// event queue. Delta is the structural change reported to consumers after
// an event has been applied to the registry.
package domain
