package events

import "strings"

// Wire format of the console protocol written by injected page scripts.
const (
	Delimiter          = ";;||;;"
	KeywordAjaxStarted = "__PHANTOMJS_EVENT__AJAX_STARTED"
	KeywordAjaxDone    = "__PHANTOMJS_EVENT__AJAX_COMPLETE"
)

// Command is a decoded console protocol message.
type Command interface {
	command()
}

// AjaxStartedCommand reports that the page opened an XHR.
type AjaxStartedCommand struct{}

// AjaxCompleteCommand reports that an XHR finished loading.
type AjaxCompleteCommand struct {
	ReadyState string
	Body       string
}

// Unrecognized wraps a console line that is not part of the protocol.
type Unrecognized struct {
	Raw string
}

func (AjaxStartedCommand) command()  {}
func (AjaxCompleteCommand) command() {}
func (Unrecognized) command()        {}

// Decode parses one console payload. It never fails: malformed protocol
// lines decode with empty fields.
func Decode(payload string) Command {
	parts := strings.Split(payload, Delimiter)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	part := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}

	switch parts[0] {
	case KeywordAjaxStarted:
		return AjaxStartedCommand{}
	case KeywordAjaxDone:
		return AjaxCompleteCommand{ReadyState: part(1), Body: part(2)}
	default:
		return Unrecognized{Raw: payload}
	}
}

// Encode renders a command in wire format. Unrecognized commands return
// their raw text.
func Encode(cmd Command) string {
	switch c := cmd.(type) {
	case AjaxStartedCommand:
		return KeywordAjaxStarted + Delimiter
	case AjaxCompleteCommand:
		return strings.Join([]string{KeywordAjaxDone, c.ReadyState, c.Body}, Delimiter)
	case Unrecognized:
		return c.Raw
	}
	return ""
}

// Event converts a recognized command into an internal event.
func (c AjaxStartedCommand) Event() Event {
	return Event{Name: AjaxStarted}
}

// Event converts a recognized command into an internal event.
func (c AjaxCompleteCommand) Event() Event {
	return Event{Name: AjaxComplete, Args: []string{c.ReadyState, c.Body}}
}
