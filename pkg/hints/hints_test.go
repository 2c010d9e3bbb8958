package hints_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/paulschiretz/pgl-sync/pkg/hints"
)

var errDeclined = errors.New("sync declined")

func TestHint(t *testing.T) {
	errOther := errors.New("disk full")
	hinted := hints.Wrap(errDeclined)

	t.Run("Wrap nil", func(t *testing.T) {
		if hints.Wrap(nil) != nil {
			t.Error("Wrap(nil) should return nil")
		}
	})

	t.Run("IsHint", func(t *testing.T) {
		testCases := []struct {
			name     string
			err      error
			expected bool
		}{
			{"NilError", nil, false},
			{"StandardError", errOther, false},
			{"Wrapped", hinted, true},
			{"FromString", hints.New("nothing to do"), true},
			{"Formatted", hints.Newf("stopped after %d passes", 3), true},
			{"WrappedHint", fmt.Errorf("run: %w", hinted), true},
			{"WrappedStandardError", fmt.Errorf("run: %w", errOther), false},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				if got := hints.IsHint(tc.err); got != tc.expected {
					t.Errorf("IsHint() = %v, want %v", got, tc.expected)
				}
			})
		}
	})

	t.Run("Unwrap and Is", func(t *testing.T) {
		if !errors.Is(hinted, errDeclined) {
			t.Error("errors.Is should find the underlying error in a hint")
		}
		if !hints.Is(hinted, errDeclined) {
			t.Error("Is(hinted, declined) should be true")
		}
		if hints.Is(errDeclined, errDeclined) {
			t.Error("Is(plain, plain) should be false because it is not a hint")
		}
		if hints.Is(hinted, errOther) {
			t.Error("Is(hinted, other) should be false")
		}
		if hints.Newf("wrapped: %w", errDeclined).Error() != "wrapped: sync declined" {
			t.Error("Newf should format its message")
		}
	})
}
