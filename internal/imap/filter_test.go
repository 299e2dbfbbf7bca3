package imap

import "testing"

func TestFilter(t *testing.T) {
	tests := []struct {
		name          string
		cmd           Command
		wantAction    Action
		wantRejectMsg string
		wantVerb      string
	}{
		{
			name:          "block STORE",
			cmd:           Command{Tag: "A001", Verb: "STORE"},
			wantAction:    Block,
			wantRejectMsg: "A001 NO STORE not allowed in read-only mode\r\n",
		},
		{
			name:          "block COPY",
			cmd:           Command{Tag: "A002", Verb: "COPY"},
			wantAction:    Block,
			wantRejectMsg: "A002 NO COPY not allowed in read-only mode\r\n",
		},
		{
			name:          "block MOVE",
			cmd:           Command{Tag: "A003", Verb: "MOVE"},
			wantAction:    Block,
			wantRejectMsg: "A003 NO MOVE not allowed in read-only mode\r\n",
		},
		{
			name:          "block DELETE",
			cmd:           Command{Tag: "A004", Verb: "DELETE"},
			wantAction:    Block,
			wantRejectMsg: "A004 NO DELETE not allowed in read-only mode\r\n",
		},
		{
			name:          "block EXPUNGE",
			cmd:           Command{Tag: "A005", Verb: "EXPUNGE"},
			wantAction:    Block,
			wantRejectMsg: "A005 NO EXPUNGE not allowed in read-only mode\r\n",
		},
		{
			name:          "block APPEND",
			cmd:           Command{Tag: "A006", Verb: "APPEND"},
			wantAction:    Block,
			wantRejectMsg: "A006 NO APPEND not allowed in read-only mode\r\n",
		},
		{
			name:          "block CREATE",
			cmd:           Command{Tag: "A007", Verb: "CREATE"},
			wantAction:    Block,
			wantRejectMsg: "A007 NO CREATE not allowed in read-only mode\r\n",
		},
		{
			name:          "block RENAME",
			cmd:           Command{Tag: "A008", Verb: "RENAME"},
			wantAction:    Block,
			wantRejectMsg: "A008 NO RENAME not allowed in read-only mode\r\n",
		},
		{
			name:          "block SUBSCRIBE",
			cmd:           Command{Tag: "A009", Verb: "SUBSCRIBE"},
			wantAction:    Block,
			wantRejectMsg: "A009 NO SUBSCRIBE not allowed in read-only mode\r\n",
		},
		{
			name:          "block UNSUBSCRIBE",
			cmd:           Command{Tag: "A010", Verb: "UNSUBSCRIBE"},
			wantAction:    Block,
			wantRejectMsg: "A010 NO UNSUBSCRIBE not allowed in read-only mode\r\n",
		},
		{
			name:          "block AUTHENTICATE",
			cmd:           Command{Tag: "A011", Verb: "AUTHENTICATE"},
			wantAction:    Block,
			wantRejectMsg: "A011 NO AUTHENTICATE not allowed in read-only mode\r\n",
		},
		{
			name:          "block UID STORE",
			cmd:           Command{Tag: "B001", Verb: "UID", SubVerb: "STORE"},
			wantAction:    Block,
			wantRejectMsg: "B001 NO UID subcommand not allowed in read-only mode\r\n",
		},
		{
			name:          "block UID COPY",
			cmd:           Command{Tag: "B002", Verb: "UID", SubVerb: "COPY"},
			wantAction:    Block,
			wantRejectMsg: "B002 NO UID subcommand not allowed in read-only mode\r\n",
		},
		{
			name:          "block UID MOVE",
			cmd:           Command{Tag: "B003", Verb: "UID", SubVerb: "MOVE"},
			wantAction:    Block,
			wantRejectMsg: "B003 NO UID subcommand not allowed in read-only mode\r\n",
		},
		{
			name:          "block UID EXPUNGE",
			cmd:           Command{Tag: "B004", Verb: "UID", SubVerb: "EXPUNGE"},
			wantAction:    Block,
			wantRejectMsg: "B004 NO UID subcommand not allowed in read-only mode\r\n",
		},
		{
			name:       "rewrite SELECT to EXAMINE",
			cmd:        Command{Tag: "C001", Verb: "SELECT", Args: []Node{&Atom{Value: "INBOX"}}},
			wantAction: Rewrite,
			wantVerb:   "EXAMINE",
		},
		{
			name:       "allow FETCH",
			cmd:        Command{Tag: "D001", Verb: "FETCH"},
			wantAction: Allow,
		},
		{
			name:       "allow LIST",
			cmd:        Command{Tag: "D002", Verb: "LIST"},
			wantAction: Allow,
		},
		{
			name:       "allow LSUB",
			cmd:        Command{Tag: "D003", Verb: "LSUB"},
			wantAction: Allow,
		},
		{
			name:       "allow STATUS",
			cmd:        Command{Tag: "D004", Verb: "STATUS"},
			wantAction: Allow,
		},
		{
			name:       "allow SEARCH",
			cmd:        Command{Tag: "D005", Verb: "SEARCH"},
			wantAction: Allow,
		},
		{
			name:       "allow NOOP",
			cmd:        Command{Tag: "D006", Verb: "NOOP"},
			wantAction: Allow,
		},
		{
			name:       "allow IDLE",
			cmd:        Command{Tag: "D007", Verb: "IDLE"},
			wantAction: Allow,
		},
		{
			name:       "allow LOGOUT",
			cmd:        Command{Tag: "D008", Verb: "LOGOUT"},
			wantAction: Allow,
		},
		{
			name:       "allow CAPABILITY",
			cmd:        Command{Tag: "D009", Verb: "CAPABILITY"},
			wantAction: Allow,
		},
		{
			name:       "allow CHECK",
			cmd:        Command{Tag: "D010", Verb: "CHECK"},
			wantAction: Allow,
		},
		{
			name:       "allow CLOSE",
			cmd:        Command{Tag: "D011", Verb: "CLOSE"},
			wantAction: Allow,
		},
		{
			name:       "allow EXAMINE (direct)",
			cmd:        Command{Tag: "D012", Verb: "EXAMINE"},
			wantAction: Allow,
		},
		{
			name:       "allow UID FETCH",
			cmd:        Command{Tag: "D013", Verb: "UID", SubVerb: "FETCH"},
			wantAction: Allow,
		},
		{
			name:       "allow UID SEARCH",
			cmd:        Command{Tag: "D014", Verb: "UID", SubVerb: "SEARCH"},
			wantAction: Allow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Filter(tt.cmd)

			if result.Action != tt.wantAction {
				t.Errorf("Action = %d, want %d", result.Action, tt.wantAction)
			}
			if tt.wantAction == Block && result.RejectMsg != tt.wantRejectMsg {
				t.Errorf("RejectMsg = %q, want %q", result.RejectMsg, tt.wantRejectMsg)
			}
			if tt.wantAction == Rewrite {
				if result.Rewritten == nil || result.Rewritten.Verb != tt.wantVerb {
					t.Errorf("Rewritten = %#v, want verb %q", result.Rewritten, tt.wantVerb)
				}
				if result.Rewritten.Tag != tt.cmd.Tag {
					t.Errorf("Rewritten.Tag = %q, want %q", result.Rewritten.Tag, tt.cmd.Tag)
				}
			}
		})
	}
}
