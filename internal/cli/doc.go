// Package cli implements authctl, the operator command-line tool. It drives
// the token lifecycle and account services in-process against the configured
// database, so it is meant to run next to the server with the same config.
//
// Commands:
//   - register <email> <first-name> <last-name>
//   - login <email>
//   - refresh <refresh-token>
//   - revoke <refresh-token>
//   - revoke-all <email>
//   - deactivate <email> / activate <email>
//   - whoami <access-token>
//   - sessions <email>
//   - cleanup
//
// Passwords are always prompted for without echo, never taken from argv.
package cli
