package main

import "testing"

func TestRootCmdHasExpectedSubcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{
		"generate-ca": false,
		"init":        false,
		"add-proxy":   false,
		"http":        false,
	}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
