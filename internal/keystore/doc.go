// Package keystore provides storage abstractions for API key material.
//
// Supports storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Env: Read-only environment variable access (requires external secret management)
//   - Keyring: OS-native credential storage
//
// The gateway only ever reads keys at startup and on config reload;
// writable backends exist so operators can provision keys with the same
// tooling.
package keystore
