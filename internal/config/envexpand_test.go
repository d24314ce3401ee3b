package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("PWASYNC_SET", "real")
	t.Setenv("PWASYNC_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set var", input: "v: ${PWASYNC_SET}", want: "v: real"},
		{name: "unset var", input: "v: ${PWASYNC_UNSET_12345}", want: "v: "},
		{name: "default when unset", input: "v: ${PWASYNC_UNSET_12345:-fallback}", want: "v: fallback"},
		{name: "default ignored when set", input: "v: ${PWASYNC_SET:-fallback}", want: "v: real"},
		{name: "default when empty", input: "v: ${PWASYNC_EMPTY:-fallback}", want: "v: fallback"},
		{name: "multiple", input: "${PWASYNC_SET}:${PWASYNC_UNSET_12345:-x}", want: "real:x"},
		{name: "no pattern", input: "plain $HOME text", want: "plain $HOME text"},
		{name: "default with url", input: "${PWASYNC_UNSET_12345:-http://localhost:8080/a}", want: "http://localhost:8080/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
