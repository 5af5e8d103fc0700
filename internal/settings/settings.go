// Package settings keeps the organisation-wide CRM settings in a JSON file
// and reloads them when the file is edited outside the server.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CompanyProfile is shown on exports and message footers
type CompanyProfile struct {
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Address  string `json:"address,omitempty"`
	Currency string `json:"currency"`
}

// WhatsAppSettings configures the (logged only) WhatsApp channel
type WhatsAppSettings struct {
	Enabled         bool   `json:"enabled"`
	BusinessNumber  string `json:"businessNumber,omitempty"`
	DefaultLanguage string `json:"defaultLanguage"`
}

// Settings is the whole settings document
type Settings struct {
	Company  CompanyProfile   `json:"company"`
	WhatsApp WhatsAppSettings `json:"whatsapp"`
	// CustomFieldDisplay lists, per entity kind, the custom field keys shown
	// as list columns, in order
	CustomFieldDisplay map[string][]string `json:"customFieldDisplay,omitempty"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// Defaults returns the settings used before anything was saved
func Defaults() Settings {
	return Settings{
		Company:            CompanyProfile{Name: "RealtyCRM", Currency: "INR"},
		WhatsApp:           WhatsAppSettings{Enabled: true, DefaultLanguage: "en"},
		CustomFieldDisplay: map[string][]string{},
	}
}

// Validate checks the document before it is saved
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Company.Name) == "" {
		return errors.New("company name is required")
	}
	if len(s.Company.Currency) != 3 {
		return fmt.Errorf("currency must be a 3 letter code, got %q", s.Company.Currency)
	}
	if s.WhatsApp.DefaultLanguage == "" {
		return errors.New("whatsapp default language is required")
	}
	for kind := range s.CustomFieldDisplay {
		switch kind {
		case "lead", "opportunity", "visit":
		default:
			return fmt.Errorf("customFieldDisplay: unknown entity %q", kind)
		}
	}
	return nil
}

// Store holds the current settings. An empty path keeps them in memory only.
type Store struct {
	path string
	now  func() time.Time

	mu       sync.RWMutex
	current  Settings
	onChange []func(Settings)
}

// Open loads path, falling back to Defaults when the file doesn't exist yet
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now, current: Defaults()}
	if path == "" {
		return s, nil
	}
	loaded, err := load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️ [SETTINGS] %s not found, using defaults", path)
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.current = loaded
	return s, nil
}

func load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	out := Defaults()
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return out, nil
}

// Get returns a copy of the current settings
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// OnChange registers fn to run after every successful update or reload
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Update validates and saves next
func (s *Store) Update(next Settings) (Settings, error) {
	if next.CustomFieldDisplay == nil {
		next.CustomFieldDisplay = map[string][]string{}
	}
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	next.UpdatedAt = s.now().UTC()

	if s.path != "" {
		if err := write(s.path, next); err != nil {
			return Settings{}, err
		}
	}
	s.set(next)
	return clone(next), nil
}

// write replaces the file atomically so the watcher never sees half a file
func write(path string, st Settings) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

func (s *Store) set(next Settings) {
	s.mu.Lock()
	s.current = next
	callbacks := append([]func(Settings){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(clone(next))
	}
}

// Reload re-reads the file. A broken file keeps the previous settings.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	loaded, err := load(s.path)
	if err != nil {
		return err
	}
	s.set(loaded)
	return nil
}

// Watch reloads the settings whenever the file changes, until ctx is done.
// It watches the directory because editors and Update replace the file.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(s.path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to get absolute path for %s: %w", s.path, err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(absPath), err)
	}
	filename := filepath.Base(absPath)

	log.Printf("👁️  [SETTINGS] Watching %s for changes", s.path)

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					if err := s.Reload(); err != nil {
						log.Printf("❌ [SETTINGS] Reload of %s failed, keeping previous settings: %v", s.path, err)
						return
					}
					log.Printf("🔄 [SETTINGS] Reloaded %s", s.path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  [SETTINGS] File watcher error: %v", err)
			}
		}
	}()
	return nil
}

func clone(s Settings) Settings {
	out := s
	out.CustomFieldDisplay = make(map[string][]string, len(s.CustomFieldDisplay))
	for k, v := range s.CustomFieldDisplay {
		out.CustomFieldDisplay[k] = append([]string(nil), v...)
	}
	return out
}
