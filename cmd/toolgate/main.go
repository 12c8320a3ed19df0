// toolgate decides whether a coding agent's tool invocation is allowed,
// denied, or left to the host's own permission prompt.
//
// Usage:
//
//	# Decide one hook request (PreToolUse or PermissionRequest) from stdin
//	toolgate run --policy ~/.toolgate/policy.yaml
//
//	# Check a policy compiles, warning about unreachable rules
//	toolgate validate --strict
//
//	# Try one invocation and see which rule decides
//	toolgate eval Bash --field command='rm -rf /' --explain
//
//	# Serve decisions over gRPC with hot reload and /metrics
//	toolgate serve --addr 127.0.0.1:7431 --metrics-addr 127.0.0.1:9431
package main

import "github.com/ppiankov/toolgate/internal/cli"

func main() {
	cli.Execute()
}
