package browser

import (
	"fmt"
	"strings"
)

// ParseTask turns a browser_use task string into a command.
//
//	click <selector>
//	type <selector> <text>
//	wait <selector>
//	extract <selector>
//	screenshot | read | back | reload
//
// Anything else is treated as read.
func ParseTask(task string) (BrowserCommand, error) {
	fields := strings.Fields(task)
	if len(fields) == 0 {
		return BrowserCommand{}, fmt.Errorf("empty browser task")
	}

	verb := Action(strings.ToLower(fields[0]))
	args := fields[1:]

	switch verb {
	case ActionClick, ActionWait, ActionExtract:
		if len(args) == 0 {
			return BrowserCommand{}, fmt.Errorf("%s requires a selector", verb)
		}
		return BrowserCommand{Action: verb, Selector: args[0]}, nil

	case ActionType:
		if len(args) < 2 {
			return BrowserCommand{}, fmt.Errorf("type requires a selector and text")
		}
		// 选择器之后的原始文本整体作为输入，保留内部空白
		text := strings.TrimSpace(task)
		text = strings.TrimSpace(text[len(fields[0]):])
		text = strings.TrimSpace(text[len(args[0]):])
		return BrowserCommand{Action: verb, Selector: args[0], Value: text}, nil

	case ActionScreenshot, ActionRead, ActionBack, ActionReload:
		return BrowserCommand{Action: verb}, nil

	default:
		return BrowserCommand{Action: ActionRead, Value: task}, nil
	}
}
