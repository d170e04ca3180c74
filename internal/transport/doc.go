// Package transport exposes the tally server over HTTP and WebSocket.
//
// Clients connect to GET /ws?user=<id>. Every frame in either direction is a
// JSON object {"event": name, "data": payload}. The server sends:
//
//	leaderboard  [{"name": ..., "length": ...}] ascending by length
//	user_data    {"name": ..., "score": ...} after connect and counted events
//	auth_error   string, then the connection is closed
//	error        string, for events that were rejected or not saved
//
// Outbound frames go through a per-connection buffer. A full buffer drops the
// frame; the next leaderboard broadcast brings the client up to date.
package transport
