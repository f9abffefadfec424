package auth

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    Role
		wantErr bool
	}{
		{"admin", RoleAdmin, false},
		{"support", RoleSupport, false},
		{"user", RoleUser, false},
		{"", "", true},
		{"Admin", "", true},
		{"superuser", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRole(%q) expected error, got nil", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRole(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRolePrivileged(t *testing.T) {
	if !RoleAdmin.Privileged() {
		t.Error("RoleAdmin.Privileged() = false, want true")
	}
	if !RoleSupport.Privileged() {
		t.Error("RoleSupport.Privileged() = false, want true")
	}
	if RoleUser.Privileged() {
		t.Error("RoleUser.Privileged() = true, want false")
	}
}
