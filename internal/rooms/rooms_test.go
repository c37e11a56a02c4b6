package rooms

import "testing"

func TestCanonicalDirectRoom(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"already sorted", "AB12", "CD34", "AB12CD34"},
		{"reversed", "CD34", "AB12", "AB12CD34"},
		{"mixed case", "ab12", "Cd34", "AB12CD34"},
		{"same code", "zz99", "ZZ99", "ZZ99ZZ99"},
		{"empty side", "", "ab", "AB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalDirectRoom(tt.a, tt.b); got != tt.want {
				t.Errorf("CanonicalDirectRoom(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCanonicalDirectRoom_Commutative(t *testing.T) {
	pairs := [][2]string{{"a1b2", "C3D4"}, {"x", "y"}, {"Q", "q"}, {"0000", "FFFF"}}
	for _, p := range pairs {
		if CanonicalDirectRoom(p[0], p[1]) != CanonicalDirectRoom(p[1], p[0]) {
			t.Errorf("CanonicalDirectRoom not commutative for %v", p)
		}
	}
}

func TestIdentityRooms(t *testing.T) {
	if got := ResolveGroupRoom("g-1"); got != "g-1" {
		t.Errorf("ResolveGroupRoom() = %q, want g-1", got)
	}
	if got := UserRoom("u-1"); got != "u-1" {
		t.Errorf("UserRoom() = %q, want u-1", got)
	}
}
