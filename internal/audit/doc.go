// Package audit keeps a trail of changes made through the admin API.
//
// Entries are written to the audit_logs table. A failed write is logged
// and never fails the request that caused it.
package audit
