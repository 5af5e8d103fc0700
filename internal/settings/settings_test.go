package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_MissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := s.Get().Company.Currency; got != "INR" {
		t.Errorf("Expected default currency INR, got %q", got)
	}
}

func TestUpdate_PersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open settings: %v", err)
	}

	var seen Settings
	s.OnChange(func(st Settings) { seen = st })

	next := s.Get()
	next.Company.Name = "Skyline Realty"
	next.CustomFieldDisplay["lead"] = []string{"budgetType"}
	if _, err := s.Update(next); err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}
	if seen.Company.Name != "Skyline Realty" {
		t.Errorf("Expected OnChange to see the update, got %q", seen.Company.Name)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen settings: %v", err)
	}
	if reopened.Get().Company.Name != "Skyline Realty" {
		t.Errorf("Expected saved company name, got %q", reopened.Get().Company.Name)
	}
	if got := reopened.Get().CustomFieldDisplay["lead"]; len(got) != 1 || got[0] != "budgetType" {
		t.Errorf("Expected display config to persist, got %v", got)
	}
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	s, _ := Open("")
	bad := s.Get()
	bad.Company.Currency = "RUPEES"
	if _, err := s.Update(bad); err == nil {
		t.Error("Expected invalid currency to be rejected")
	}
	bad = s.Get()
	bad.CustomFieldDisplay = map[string][]string{"deal": {"x"}}
	if _, err := s.Update(bad); err == nil {
		t.Error("Expected unknown entity to be rejected")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s, _ := Open("")
	st := s.Get()
	st.CustomFieldDisplay["lead"] = []string{"mutated"}
	if _, ok := s.Get().CustomFieldDisplay["lead"]; ok {
		t.Error("Expected Get to return an independent copy")
	}
}

func TestReload_BrokenFileKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, _ := Open(path)
	next := s.Get()
	next.Company.Name = "Before"
	if _, err := s.Update(next); err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to corrupt file: %v", err)
	}
	if err := s.Reload(); err == nil {
		t.Error("Expected reload of a broken file to fail")
	}
	if s.Get().Company.Name != "Before" {
		t.Errorf("Expected previous settings to survive, got %q", s.Get().Company.Name)
	}
}

func TestWatch_ReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, _ := Open(path)
	if _, err := s.Update(s.Get()); err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Settings, 4)
	s.OnChange(func(st Settings) { changed <- st })
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Failed to watch settings: %v", err)
	}

	body := `{"company":{"name":"Edited by hand","currency":"USD"},"whatsapp":{"enabled":false,"defaultLanguage":"en"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to edit file: %v", err)
	}

	select {
	case st := <-changed:
		if st.Company.Name != "Edited by hand" || st.WhatsApp.Enabled {
			t.Errorf("Expected reloaded settings, got %+v", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
