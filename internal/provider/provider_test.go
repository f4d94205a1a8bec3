package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		trigger string
		args    []string
		ok      bool
	}{
		{"bare command", "/start", "/start", []string{}, true},
		{"with args", "/greet  Ana   Bob", "/greet", []string{"Ana", "Bob"}, true},
		{"addressed to bot", "/ping@HostBot", "/ping", []string{}, true},
		{"leading spaces", "   /ping", "/ping", []string{}, true},
		{"plain text", "hello", "", nil, false},
		{"empty", "", "", nil, false},
		{"slash only", "/", "", nil, false},
		{"slash at bot", "/@HostBot", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trigger, args, ok := ParseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.trigger, trigger)
			if tt.ok {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}
