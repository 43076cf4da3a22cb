// Package server implements the HTTP API of the publication board: account
// registration and login, profile CRUD, publications with file attachments
// and the static uploads route. It wires the routes to their dependencies
// (credential store, file store, token issuer, metrics) and provides the
// lifecycle helpers used by tests and the production binary.
package server
