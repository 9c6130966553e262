package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/store"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"not cached", fmt.Errorf("repository a/b is not cached: %w", store.ErrNotFound), ExitNotFound},
		{"platform not found", platform.NewError(model.GitHub, "get", platform.KindNotFound, nil), ExitNotFound},
		{"transient", fmt.Errorf("fetching: %w", platform.NewError(model.GitLab, "get", platform.KindTransient, nil)), ExitUnavailable},
		{"circuit open", platform.NewError(model.GitHub, "search", platform.KindCircuitOpen, nil), ExitUnavailable},
		{"auth", platform.NewError(model.Bitbucket, "get", platform.KindAuth, nil), ExitAuth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
