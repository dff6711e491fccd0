package domain

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "already normalized", input: "+15551234567", want: "+15551234567"},
		{name: "spaces and dashes", input: " +1 555-123-4567 ", want: "+15551234567"},
		{name: "parentheses and dots", input: "+1 (555) 123.4567", want: "+15551234567"},
		{name: "double zero prefix", input: "0015551234567", want: "+15551234567"},
		{name: "missing plus", input: "5551234567", wantErr: true},
		{name: "letters", input: "+1555CALLNOW", wantErr: true},
		{name: "too short", input: "+1234", wantErr: true},
		{name: "leading zero country code", input: "+05551234567", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := NormalizePhone(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("NormalizePhone() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("NormalizePhone() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("NormalizePhone() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPhoneMappingValidate(t *testing.T) {
	t.Parallel()

	valid := PhoneMapping{
		PhoneNumber: "+15551234567",
		UserID:      "u-1",
		Status:      MappingStatusActive,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	missingUser := valid
	missingUser.UserID = "  "
	if err := missingUser.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	badStatus := valid
	badStatus.Status = MappingStatus("SUSPENDED")
	if err := badStatus.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}
