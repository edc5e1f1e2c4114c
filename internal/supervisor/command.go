package supervisor

import (
	"os/exec"
	"strings"
)

// buildCommand turns a slot's declared start command into an *exec.Cmd.
// An explicit "sh -c <script>" prefix is honored without wrapping in a
// second shell; shell metacharacters force a "/bin/sh -c" invocation; a
// plain command is split on whitespace and executed directly. The command
// must be non-empty; launch rejects empty commands before getting here.
func buildCommand(command string) *exec.Cmd {
	command = strings.TrimSpace(command)
	if script, ok := explicitShellScript(command); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", script)
	}
	if strings.ContainsAny(command, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", command)
	}
	parts := strings.Fields(command)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// explicitShellScript detects a leading "sh -c " (or an absolute-path
// variant) and returns the script after "-c", with one pair of surrounding
// quotes stripped so redirection inside the script still parses.
func explicitShellScript(command string) (string, bool) {
	for _, prefix := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(command, prefix) {
			continue
		}
		script := command[len(prefix):]
		if n := len(script); n >= 2 {
			if (script[0] == '\'' && script[n-1] == '\'') ||
				(script[0] == '"' && script[n-1] == '"') {
				script = script[1 : n-1]
			}
		}
		return script, true
	}
	return "", false
}
