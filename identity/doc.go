// Package identity stores the identity records produced by the authentication
// modes and issues the audit ids that tie them to cross-system audit logs.
//
// Three record variants exist, one per authentication mode. A process only
// ever touches the variant of its active mode. Records are created on first
// contact, refreshed on later contacts, and never deleted here.
package identity
