// Package mockapi is an in-memory implementation of the monitoring
// service's REST API.
//
// It backs the client's integration tests and the "sitewatch mock" command.
// [Backend] holds sites and probe logs; [Server] exposes them under /api
// with the same paths, shapes and status codes the real service uses. A
// forced check is accepted with 202 and its probe result is committed after
// a settle delay, so clients observe the same asynchronous settling they do
// in production.
package mockapi
