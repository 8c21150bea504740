package normalize

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	cases := map[string]string{
		"José":   "Jose",
		"Zoë":    "Zoe",
		"Müller": "Muller",
		"Alice":  "Alice",
	}
	for input, want := range cases {
		if got := RemoveDiacritics(input); got != want {
			t.Errorf("RemoveDiacritics(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPersonName(t *testing.T) {
	cases := map[string]string{
		"Jose-Garcia":    "jose garcia",
		"José García":    "jose garcia",
		"ALICE":          "alice",
		"Bob_Jones":      "bob jones",
		"Bob.Jones":      "bob jones",
		"  Alice   Lee ": "alice lee",
		"Jane--Doe":      "jane doe",
	}
	for input, want := range cases {
		if got := PersonName(input); got != want {
			t.Errorf("PersonName(%q) = %q, want %q", input, got, want)
		}
	}
}
