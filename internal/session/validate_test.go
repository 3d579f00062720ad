package session

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"staging-2", false},
		{"ops_bot", false},
		{"7", false},
		{strings.Repeat("r", MaxNameLen), false},
		{strings.Repeat("r", MaxNameLen+1), true},
		{"", true},
		{"-main", true},
		{"_main", true},
		{"Main", true},
		{"two words", true},
		{"../escape", true},
		{"a.b", true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", tt.input, err)
		}
	}
}
