package models

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"
)

func TestStoreError(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		tests := []struct {
			name   string
			err    error
			target error
			want   bool
		}{
			{"lock timeout", LockTimeout("a.csv.lock", time.Second), ErrLockTimeout, true},
			{"lock timeout is not malformed", LockTimeout("a.csv.lock", time.Second), ErrMalformed, false},
			{"malformed", Malformed("a.csv", errors.New("bad quote")), ErrMalformed, true},
			{"validation", Validation("name is empty"), ErrValidation, true},
			{"missing field is validation", MissingField("vendor"), ErrValidation, true},
			{"wrapped", fmt.Errorf("failed to write: %w", LockTimeout("x", 0)), ErrLockTimeout, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := errors.Is(tt.err, tt.target); got != tt.want {
					t.Errorf("errors.Is() = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("As", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", MissingField("item_number"))
		var se *StoreError
		if !errors.As(err, &se) {
			t.Fatal("errors.As() failed")
		}
		if se.Code() != ErrorCodeMissingField {
			t.Errorf("Code() = %q, want %q", se.Code(), ErrorCodeMissingField)
		}
		if se.Details()["field"] != "item_number" {
			t.Errorf("Details()[field] = %v", se.Details()["field"])
		}
	})

	t.Run("Unwrap keeps cause", func(t *testing.T) {
		err := Malformed("a.csv", fs.ErrPermission)
		if !errors.Is(err, fs.ErrPermission) {
			t.Error("cause lost")
		}
		if !IsLockTimeout(LockTimeout("b", time.Millisecond)) {
			t.Error("IsLockTimeout() = false")
		}
	})
}
