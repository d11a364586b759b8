// Package tui provides the "conductor watch" dashboard: tracked delegations,
// the approval ledger and a live event log.
package tui
