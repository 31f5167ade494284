package i18n

import "testing"

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	fallback := GetCatalog("missing-locale")
	if fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestFormatUsesMetadata(t *testing.T) {
	got := GetCatalog("en-US").Format(CodeNotFound, map[string]string{"Resource": "car"})
	if want := "car not found"; got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
	got = GetCatalog("pt-BR").Format(CodeUnknownProjection, map[string]string{"Projection": "x"})
	if want := "Projeção desconhecida x"; got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestCatalogsCoverEveryCode(t *testing.T) {
	for _, locale := range []string{"en-US", "pt-BR"} {
		cat := GetCatalog(locale)
		for code := range enUSMessages {
			if _, ok := cat.messages[code]; !ok {
				t.Fatalf("locale %s missing message for %s", locale, code)
			}
		}
	}
}

func TestNegotiateLocale(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "en-US"},
		{"pt-BR,pt;q=0.9,en;q=0.8", "pt-BR"},
		{"pt", "pt-BR"},
		{"en-GB", "en-US"},
		{"de-DE", "en-US"},
		{";;;", "en-US"},
	}
	for _, tc := range tests {
		if got := NegotiateLocale(tc.header); got != tc.want {
			t.Fatalf("NegotiateLocale(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
