// Package cli provides the interactive authkeeper command-line client.
//
// It wires configuration, the local session database, the HTTP API client
// and a small REPL. A session saved by a previous run is picked up on start,
// so the user stays logged in until the token expires or they log out.
//
// Commands:
//   - register, login, logout
//   - change-password
//   - forgot-password, verify-reset-token, reset-password
//   - status
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
