// Package mysql persists accounts, roles and permissions in MySQL and runs
// the embedded schema migrations on startup. Command state and history use
// their own MySQL layers; this package only backs the auth service.
package mysql
