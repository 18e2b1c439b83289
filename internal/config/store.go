package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const (
	ConfigFile = "config.json"
	AdminsFile = "admins.json"
)

// ChannelID is a chat id or @handle. Older config files store it as a bare
// number, so both JSON forms are accepted and numeric ids are written back
// as numbers.
type ChannelID string

func (c *ChannelID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*c = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChannelID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*c = ChannelID(n.String())
	}
	return nil
}

func (c ChannelID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(c), 10, 64); err == nil {
		return []byte(c), nil
	}
	return json.Marshal(string(c))
}

type fileConfig struct {
	TestbookToken string    `json:"testbook_auth_token,omitempty"`
	ForwardChan   ChannelID `json:"forward_channel_id,omitempty"`
}

type fileAdmins struct {
	AdminIDs []int64 `json:"admin_ids"`
}

// Store owns config.json and admins.json in one directory. Files are created
// on first access and rewritten whole on every change.
type Store struct {
	mu    sync.Mutex
	dir   string
	owner int64
}

func NewStore(dir string, owner int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create data dir: %w", err)
	}
	return &Store{dir: dir, owner: owner}, nil
}

func (s *Store) Owner() int64 { return s.owner }

// Token returns the catalog auth token, or "" when none is stored.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cfg fileConfig
	if err := s.load(ConfigFile, &cfg); err != nil {
		return ""
	}
	return cfg.TestbookToken
}

func (s *Store) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("config: empty token")
	}
	return s.updateConfig(func(c *fileConfig) { c.TestbookToken = token })
}

// Channel returns the configured forward channel, or "" when unset.
func (s *Store) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cfg fileConfig
	if err := s.load(ConfigFile, &cfg); err != nil {
		return ""
	}
	return string(cfg.ForwardChan)
}

func (s *Store) SetChannel(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("config: empty channel id")
	}
	return s.updateConfig(func(c *fileConfig) { c.ForwardChan = ChannelID(id) })
}

func (s *Store) RemoveChannel() error {
	return s.updateConfig(func(c *fileConfig) { c.ForwardChan = "" })
}

// Admins lists the stored admin ids. The owner is not part of the list.
func (s *Store) Admins() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := fileAdmins{AdminIDs: []int64{}}
	if err := s.load(AdminsFile, &a); err != nil {
		return nil, err
	}
	return a.AdminIDs, nil
}

// AddAdmin reports false when id was already an admin.
func (s *Store) AddAdmin(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := fileAdmins{AdminIDs: []int64{}}
	if err := s.load(AdminsFile, &a); err != nil {
		return false, err
	}
	if slices.Contains(a.AdminIDs, id) {
		return false, nil
	}
	a.AdminIDs = append(a.AdminIDs, id)
	return true, s.save(AdminsFile, a)
}

// RemoveAdmin reports false when id was not an admin.
func (s *Store) RemoveAdmin(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := fileAdmins{AdminIDs: []int64{}}
	if err := s.load(AdminsFile, &a); err != nil {
		return false, err
	}
	i := slices.Index(a.AdminIDs, id)
	if i < 0 {
		return false, nil
	}
	a.AdminIDs = slices.Delete(a.AdminIDs, i, i+1)
	return true, s.save(AdminsFile, a)
}

func (s *Store) IsOwner(id int64) bool { return id == s.owner }

// IsAdmin is true for the owner and every listed admin.
func (s *Store) IsAdmin(id int64) bool {
	if s.IsOwner(id) {
		return true
	}
	admins, err := s.Admins()
	if err != nil {
		return false
	}
	return slices.Contains(admins, id)
}

func (s *Store) updateConfig(fn func(*fileConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cfg fileConfig
	if err := s.load(ConfigFile, &cfg); err != nil {
		return err
	}
	fn(&cfg)
	return s.save(ConfigFile, cfg)
}

// load decodes name into v, creating the file from v's zero value when it
// does not exist. A corrupt file reads as empty and is replaced on the next
// save. Callers hold s.mu.
func (s *Store) load(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.save(name, v)
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", name, err)
	}
	_ = json.Unmarshal(data, v)
	return nil
}

func (s *Store) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: replace %s: %w", name, err)
	}
	return nil
}
