package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfile_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.toml")

	empty, err := loadProfile(path)
	if err != nil {
		t.Fatalf("load missing profile: %v", err)
	}
	if empty != (Profile{}) {
		t.Fatalf("expected empty profile, got %+v", empty)
	}

	want := Profile{APIBaseURL: "http://localhost:8080", UserID: "u1", Token: "tok"}
	if err := saveProfile(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := loadProfile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestProfile_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte("user_id = "), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadProfile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
