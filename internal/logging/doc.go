// Package logging configures structured JSON logging for InsightOS.
//
// Logs go to a size-rotated file under the data directory
// (~/.insightos/logs/insightos.log by default). The CLI mirrors them to
// stderr when --debug is set; the MCP server never writes to stderr or
// stdout because stdout carries the JSON-RPC stream.
package logging
