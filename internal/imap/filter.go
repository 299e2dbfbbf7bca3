package imap

// Action describes what the read-only guard decided to do with a command
// before it was ever compiled or sent.
type Action int

const (
	Allow Action = iota
	Block
	Rewrite
)

// FilterResult holds the read-only guard's decision for a command.
type FilterResult struct {
	Action    Action
	Rewritten *Command // only set when Action == Rewrite
	RejectMsg string   // only set when Action == Block
}

// mutatingVerbs lists IMAP verbs that change mailbox or message state.
var mutatingVerbs = map[string]bool{
	"STORE":        true,
	"COPY":         true,
	"MOVE":         true,
	"DELETE":       true,
	"EXPUNGE":      true,
	"APPEND":       true,
	"CREATE":       true,
	"RENAME":       true,
	"SUBSCRIBE":    true,
	"UNSUBSCRIBE":  true,
	"AUTHENTICATE": true,
}

// mutatingUIDSubVerbs lists UID sub-commands that mutate message state.
var mutatingUIDSubVerbs = map[string]bool{
	"STORE":   true,
	"COPY":    true,
	"MOVE":    true,
	"EXPUNGE": true,
}

// Filter implements the client-side read-only guard (§ SUPPLEMENTED
// FEATURES): with a ReadOnly client, mutating commands passed to
// Engine.Exec are rejected before they are tagged or sent. It downgrades SELECT to EXAMINE rather than blocking it, since
// selecting a mailbox read-only is itself the point of the guard.
func Filter(cmd Command) FilterResult {
	if cmd.Verb == "UID" {
		if mutatingUIDSubVerbs[cmd.SubVerb] {
			return FilterResult{
				Action:    Block,
				RejectMsg: cmd.Tag + " NO UID subcommand not allowed in read-only mode\r\n",
			}
		}
		return FilterResult{Action: Allow}
	}

	if mutatingVerbs[cmd.Verb] {
		return FilterResult{
			Action:    Block,
			RejectMsg: cmd.Tag + " NO " + cmd.Verb + " not allowed in read-only mode\r\n",
		}
	}

	if cmd.Verb == "SELECT" {
		rewritten := cmd
		rewritten.Verb = "EXAMINE"
		return FilterResult{Action: Rewrite, Rewritten: &rewritten}
	}

	return FilterResult{Action: Allow}
}
