// Package sqlstore implements goAccess.Directory and goAccess.AuditStore on
// SQLite through sqlx and the pure Go modernc driver.
//
// Timestamps are stored as Unix nanoseconds so range filters compare
// integers. Backup codes are consumed with a conditional UPDATE, which makes
// a code single use even when two requests race for it.
package sqlstore
