/*
Package stream provides a client and server for a remote interactive shell session which streams
command lines (client->server) and interpreter output chunks (server->client). It uses WebSockets
for bidi messaging so only requires an HTTP server.

Sessions are scoped to the WebSocket connection--that is, if the connection dies for any reason,
the interpreter session is disposed. The interpreter process itself is managed by the shell
package: if it dies while the connection is healthy, the session respawns it and the client sees
a notice chunk, not a dropped connection.

There are two messages in this protocol: "request" messages are sent client->server and carry one
command line each, and "response" messages are sent server->client and carry one output chunk
each. The schema for these messages is described in types.go.

The protocol proceeds as follows:

1. The client opens a WebSocket connection with the server.
2. The server spawns an interpreter session and sends a response message with the session-created notice.
3. The client sends request messages with command lines; the server streams back output chunks as the interpreter produces them.
4. The client initiates closing of the WebSocket connection, which disposes the session.

The server does not buffer output across connections: chunks produced while no connection exists
are dropped with the session.
*/
package stream
