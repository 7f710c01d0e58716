package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openviking/openviking/pkg/status"
)

func TestRenderErrorExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"server error", status.NotFound("no such node"), exitServer},
		{"invalid uri", status.InvalidURI("bad"), exitServer},
		{"connection failure", status.Unavailable("request failed"), exitConnection},
		{"plain error", errors.New("no config"), exitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderError(tt.err))
		})
	}
}
