// Package repository defines the delta journal for patchbay.
//
// Every structural delta delivered by the driver can be appended to a
// Journal, giving a history of what appeared and disappeared across
// sessions. Each process run is a session identified by a UUID.
//
// The sqlite subpackage implements the journal on modernc.org/sqlite, with
// the schema created on open. Tests run against in-memory databases.
package repository
