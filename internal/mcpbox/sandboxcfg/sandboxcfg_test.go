package sandboxcfg

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	b := New("srv-1", "weather", []string{"requests", "json"}, []string{"api.example.com"})

	text, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if text == "" {
		t.Fatal("expected non-empty YAML")
	}

	got, err := Unmarshal(text)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.APIVersion != BundleVersion {
		t.Fatalf("apiVersion = %q, want %q", got.APIVersion, BundleVersion)
	}
	if got.ServerID != b.ServerID || got.ServerName != b.ServerName {
		t.Fatalf("server identity mismatch: got %+v, want %+v", got, b)
	}
	if len(got.Modules) != 2 || got.Modules[0] != "requests" {
		t.Fatalf("modules round-trip mismatch: %v", got.Modules)
	}
	if len(got.Hosts) != 1 || got.Hosts[0] != "api.example.com" {
		t.Fatalf("hosts round-trip mismatch: %v", got.Hosts)
	}
}

func TestMarshalEmptyBundle(t *testing.T) {
	text, err := Marshal(New("srv-2", "empty", nil, nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(text)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Modules) != 0 || len(got.Hosts) != 0 {
		t.Fatalf("expected empty slices, got %+v", got)
	}
}
