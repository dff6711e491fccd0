package signature

import "testing"

func TestValidatorRoundTrip(t *testing.T) {
	t.Parallel()

	v, err := NewValidator("shared-secret")
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	body := []byte("From=%2B15551234567&Body=hello&MessageSid=SM1")
	sig := v.Sign(body)

	if !v.Valid(body, sig) {
		t.Fatal("Valid() = false for correct signature")
	}
	if !v.Valid(body, " "+sig+" ") {
		t.Fatal("Valid() = false for signature with surrounding whitespace")
	}
}

func TestValidatorRejects(t *testing.T) {
	t.Parallel()

	v, err := NewValidator("shared-secret")
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	body := []byte("payload")
	sig := v.Sign(body)

	if v.Valid([]byte("tampered"), sig) {
		t.Fatal("Valid() = true for tampered body")
	}
	if v.Valid(body, "") {
		t.Fatal("Valid() = true for empty signature")
	}
	if v.Valid(body, "not-hex") {
		t.Fatal("Valid() = true for malformed signature")
	}

	other, err := NewValidator("different-secret")
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	if other.Valid(body, sig) {
		t.Fatal("Valid() = true across different secrets")
	}
}

func TestNewValidatorRequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewValidator("  "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}
