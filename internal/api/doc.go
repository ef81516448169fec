// Package api provides the REST client for the bot backend's pull and chat
// endpoints.
//
// Endpoints:
//   - GET  /api/status  current status of one bot (legacy) or the whole fleet
//   - GET  /api/trades  executed orders, most recent first
//   - POST /api/chat    send a user message, receive one agent reply
package api
