// Package api exposes the REST surface of the agent-chain daemon: run
// submission and inspection, synchronous pipeline execution, token issuance,
// the custom tool gateway and operational endpoints for health and metrics.
package api
