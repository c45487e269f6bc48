package execution

import (
	"fmt"
	"strings"
)

// InstructionGuard flags shell instructions that match dangerous patterns.
type InstructionGuard struct {
	blockedPatterns []string
}

// NewInstructionGuard creates a guard with the default shell blacklist.
func NewInstructionGuard() *InstructionGuard {
	return &InstructionGuard{
		blockedPatterns: []string{
			// 危险命令
			"rm -rf /", "rm -fr /", "mkfs", "dd if=",
			"> /dev/sd", ">/dev/sd",
			":(){ :|:& };:",
			// 权限操作
			"sudo ", "su root", "chmod 777 /",
			// 系统操作
			"shutdown", "reboot", "systemctl", "killall",
			// 敏感文件
			"/etc/shadow", "~/.ssh", "id_rsa",
		},
	}
}

// WithPatterns appends extra patterns.
func (g *InstructionGuard) WithPatterns(patterns ...string) *InstructionGuard {
	g.blockedPatterns = append(g.blockedPatterns, patterns...)
	return g
}

// Check returns one warning per matched pattern.
func (g *InstructionGuard) Check(instruction string) []string {
	var warnings []string
	for _, pattern := range g.blockedPatterns {
		if strings.Contains(instruction, pattern) {
			warnings = append(warnings, fmt.Sprintf("potentially dangerous pattern: %s", pattern))
		}
	}
	return warnings
}
