package credentials

import "os"

// passthroughEnv are harmless host variables the agent inherits when set.
var passthroughEnv = []string{"TERM", "COLORTERM"}

// agentKeyEnv are the credential variables an agent needs to reach its own
// API. Only these cross the sandbox boundary; everything else on the host
// environment stays outside.
var agentKeyEnv = []string{"ANTHROPIC_API_KEY"}

// Collect gathers the environment passthrough for the agent container.
// It never reads credential files; only explicitly whitelisted variables
// from the launcher's own environment are forwarded.
func Collect() map[string]string {
	env := make(map[string]string)
	for _, key := range agentKeyEnv {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			env[key] = val
		}
	}
	for _, key := range passthroughEnv {
		if val, ok := os.LookupEnv(key); ok {
			env[key] = val
		}
	}
	return env
}
