package sanitizer

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "E.164 passes through", input: "+16502530000", want: "+16502530000"},
		{name: "formatted US number", input: "+1 (650) 253-0000", want: "+16502530000"},
		{name: "formatted Indian number", input: "+91 81234 56789", want: "+918123456789"},
		{name: "national number uses first region", input: "8123456789", want: "+918123456789"},
		{name: "surrounding whitespace", input: "  +16502530000  ", want: "+16502530000"},
		{name: "too short", input: "12345", want: ""},
		{name: "letters", input: "call me", want: ""},
		{name: "empty", input: "", want: ""},
		{name: "only whitespace", input: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePhone(tt.input); got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	once := NormalizePhone("+1 650-253-0000")
	if twice := NormalizePhone(once); twice != once {
		t.Fatalf("expected %q to normalize to itself, got %q", once, twice)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  Amy.Pond@Example.COM ", "amy.pond@example.com"},
		{"amy@example.com", "amy@example.com"},
		{"amy", ""},
		{"@example.com", ""},
		{"amy@", ""},
		{"amy@exa mple.com", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeEmail(tt.input); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCollapseSpaces(t *testing.T) {
	if got := CollapseSpaces("  Amy \t  Pond\n"); got != "Amy Pond" {
		t.Fatalf("unexpected name %q", got)
	}
}
