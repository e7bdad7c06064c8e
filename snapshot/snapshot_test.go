package snapshot

import "testing"

func TestKeyStableAcrossWhitespace(t *testing.T) {
	a := Snapshot{URL: "https://cars.example.com/listing/123", Year: 2018, Make: "Honda", Model: "Civic", Trim: "EX-L"}
	b := Snapshot{URL: "  https://cars.example.com/listing/123  ", Year: 2018, Make: " Honda ", Model: "Civic", Trim: "EX-L "}

	ka, ok := Key(a)
	if !ok {
		t.Fatal("expected key for a")
	}
	kb, ok := Key(b)
	if !ok {
		t.Fatal("expected key for b")
	}
	if ka != kb {
		t.Errorf("keys differ across whitespace: %s vs %s", ka, kb)
	}
}

func TestKeyDiffersByVIN(t *testing.T) {
	a := Snapshot{Year: 2020, Make: "Toyota", Model: "Tacoma", VIN: "3TMCZ5AN0LM300001"}
	b := Snapshot{Year: 2020, Make: "Toyota", Model: "Tacoma", VIN: "3TMCZ5AN0LM300002"}

	ka, _ := Key(a)
	kb, _ := Key(b)
	if ka == kb {
		t.Error("different VINs must produce different keys")
	}
}

func TestKeyRequiresMinimumIdentity(t *testing.T) {
	if _, ok := Key(Snapshot{URL: "https://cars.example.com/x", PriceUSD: 5000}); ok {
		t.Error("snapshot without year or make should have no key")
	}
	if _, ok := Key(Snapshot{Make: "Ford"}); !ok {
		t.Error("make alone is sufficient identity")
	}
	if _, ok := Key(Snapshot{Year: 1999}); !ok {
		t.Error("year alone is sufficient identity")
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	s := Snapshot{Make: "  Land   Rover ", VIN: " salg2se7ka000001 ", SellerDescription: "one\n\towner"}
	n := s.Normalize()
	if n.Make != "Land Rover" {
		t.Errorf("Make = %q", n.Make)
	}
	if n.VIN != "SALG2SE7KA000001" {
		t.Errorf("VIN = %q", n.VIN)
	}
	if n.SellerDescription != "one owner" {
		t.Errorf("SellerDescription = %q", n.SellerDescription)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{"ok", Snapshot{URL: "https://x.test/1", Year: 2015}, false},
		{"no url", Snapshot{Year: 2015, Make: "Kia"}, true},
		{"no identity", Snapshot{URL: "https://x.test/1", PriceUSD: 100}, true},
	}
	for _, tt := range tests {
		err := tt.snap.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNormalizeListingURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTPS://Cars.Example.COM/Listing/123/", "https://cars.example.com/Listing/123"},
		{"https://cars.example.com/l/9?utm_source=fb&vid=7#photos", "https://cars.example.com/l/9?vid=7"},
		{"https://cars.example.com/l/9?b=2&a=1", "https://cars.example.com/l/9?a=1&b=2"},
		{"listing:abc123", "listing:abc123"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeListingURL(tt.in); got != tt.want {
			t.Errorf("NormalizeListingURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalIgnoresIncidentalFields(t *testing.T) {
	a := Snapshot{URL: "https://x.test/1", Year: 2019, Make: "Mazda", Location: "Austin, TX"}
	b := Snapshot{URL: "https://x.test/1", Year: 2019, Make: "Mazda", Location: "Dallas, TX"}
	if string(Canonical(a)) != string(Canonical(b)) {
		t.Error("location must not affect canonical form")
	}
	if CacheKey(a) != CacheKey(b) {
		t.Error("location must not affect cache key")
	}
}

func TestCacheKeyEmbedsSchemaVersion(t *testing.T) {
	s := Snapshot{URL: "https://x.test/1", Year: 2019, Make: "Mazda"}
	k1 := CacheKey(s)
	k2 := CacheKey(s)
	if k1 != k2 {
		t.Error("cache key must be deterministic")
	}
	if len(k1) != 64 {
		t.Errorf("expected hex sha256, got %d chars", len(k1))
	}
}
