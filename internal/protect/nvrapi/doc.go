// Package nvrapi is the HTTP and WebSocket collaborator for a Protect NVR.
//
// It performs the three exchanges the live-state pipeline needs:
//
//   - Login: POST /api/auth/login, keeping the TOKEN cookie and CSRF token
//   - FetchBootstrap: GET /proxy/protect/api/bootstrap
//   - DialUpdates: WebSocket /proxy/protect/ws/updates?lastUpdateId=...
//
// Failures are split into ErrAuth (rejected or expired credentials, retry
// after Login) and ErrTransport (everything else, retry with backoff).
package nvrapi
