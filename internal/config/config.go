package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration, loaded from YAML and
// then overridden by COHABIT_* environment variables.
type Config struct {
	// Host is the listen address, loopback by default. Anyone who can reach
	// the server acts as the signed-in user.
	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	DBPath string `yaml:"db_path"`

	Log     LogConfig     `yaml:"log"`
	API     APIConfig     `yaml:"api"`
	Push    PushConfig    `yaml:"push"`
	Storage StorageConfig `yaml:"storage"`

	// AdminEmail is the one account allowed to edit the ledger.
	AdminEmail string `yaml:"admin_email"`

	// Timezone is the IANA zone that reminder rules and calendar days are
	// evaluated in.
	Timezone string `yaml:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start"`

	Notify NotifyConfig `yaml:"notify"`

	// Colors maps a display name or email to a hex colour.
	Colors map[string]string `yaml:"colors"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
}

type StorageConfig struct {
	// Secret seals the stored bearer token. Empty stores it in the clear.
	Secret string `yaml:"secret"`
}

type NotifyConfig struct {
	HistoryLimit int            `yaml:"history_limit"`
	Debounce     time.Duration  `yaml:"debounce"`
	Trash        TrashRule      `yaml:"trash"`
	Rent         RentRule       `yaml:"rent"`
	AllMembers   AllMembersRule `yaml:"all_members"`
}

// TrashRule fires on the listed weekdays at Time (HH:MM).
type TrashRule struct {
	Enabled  bool     `yaml:"enabled"`
	Weekdays []string `yaml:"weekdays"`
	Time     string   `yaml:"time"`
	Title    string   `yaml:"title"`
	Body     string   `yaml:"body"`
}

// RentRule fires on DueDay and ReminderDay of every month at Hour.
type RentRule struct {
	Enabled       bool   `yaml:"enabled"`
	DueDay        int    `yaml:"due_day"`
	ReminderDay   int    `yaml:"reminder_day"`
	Hour          int    `yaml:"hour"`
	DueTitle      string `yaml:"due_title"`
	DueBody       string `yaml:"due_body"`
	ReminderTitle string `yaml:"reminder_title"`
	ReminderBody  string `yaml:"reminder_body"`
}

// AllMembersRule fires when every roster member has an event on one day.
type AllMembersRule struct {
	Enabled bool     `yaml:"enabled"`
	Roster  []string `yaml:"roster"`
	Title   string   `yaml:"title"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts full English names and three-letter abbreviations.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for name, d := range weekdays {
		if s == name || (len(s) == 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// DefaultColors is the name/email colour table the household started with.
func DefaultColors() map[string]string {
	return map[string]string{
		"승혜":                 "#FF5722",
		"pizza@test.com":     "#FF5722",
		"가연":                 "#2196F3",
		"1bfish106@test.com": "#2196F3",
		"석린":                 "#4CAF50",
		"hosk2014@test.com":  "#4CAF50",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   "8080",
		DBPath: "cohabit.db",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 15 * time.Second,
		},
		Push: PushConfig{
			Subscriber: "mailto:noreply@cohabit.local",
		},
		AdminEmail: "hosk2014@test.com",
		Timezone:   "Asia/Seoul",
		WeekStart:  "sunday",
		Notify: NotifyConfig{
			HistoryLimit: 100,
			Debounce:     5 * time.Second,
			Trash: TrashRule{
				Enabled:  true,
				Weekdays: []string{"sunday", "tuesday", "thursday"},
				Time:     "20:00",
				Title:    "Trash day",
				Body:     "Take the trash and recycling out tonight.",
			},
			Rent: RentRule{
				Enabled:       true,
				DueDay:        25,
				ReminderDay:   20,
				Hour:          10,
				DueTitle:      "Rent due",
				DueBody:       "Rent is due today.",
				ReminderTitle: "Rent reminder",
				ReminderBody:  "Rent is due in a few days.",
			},
			AllMembers: AllMembersRule{
				Enabled: true,
				Roster:  []string{"승혜", "가연", "석린"},
				Title:   "Everyone is in",
			},
		},
		Colors: DefaultColors(),
	}
}

// Normalize fills in missing or zero values so partially filled files still
// behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == "" {
		c.Port = d.Port
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout <= 0 {
		c.API.Timeout = d.API.Timeout
	}
	if c.Push.Subscriber == "" {
		c.Push.Subscriber = d.Push.Subscriber
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	switch c.WeekStart {
	case "sunday", "monday":
	default:
		c.WeekStart = d.WeekStart
	}

	n := &c.Notify
	if n.HistoryLimit <= 0 {
		n.HistoryLimit = d.Notify.HistoryLimit
	}
	if n.Debounce <= 0 {
		n.Debounce = d.Notify.Debounce
	}
	if n.Trash.Weekdays == nil {
		n.Trash.Weekdays = d.Notify.Trash.Weekdays
	}
	if n.Trash.Time == "" {
		n.Trash.Time = d.Notify.Trash.Time
	}
	if n.Trash.Title == "" {
		n.Trash.Title = d.Notify.Trash.Title
	}
	if n.Trash.Body == "" {
		n.Trash.Body = d.Notify.Trash.Body
	}
	if n.Rent.DueDay == 0 {
		n.Rent.DueDay = d.Notify.Rent.DueDay
	}
	if n.Rent.ReminderDay == 0 {
		n.Rent.ReminderDay = d.Notify.Rent.ReminderDay
	}
	if n.Rent.DueTitle == "" {
		n.Rent.DueTitle = d.Notify.Rent.DueTitle
	}
	if n.Rent.DueBody == "" {
		n.Rent.DueBody = d.Notify.Rent.DueBody
	}
	if n.Rent.ReminderTitle == "" {
		n.Rent.ReminderTitle = d.Notify.Rent.ReminderTitle
	}
	if n.Rent.ReminderBody == "" {
		n.Rent.ReminderBody = d.Notify.Rent.ReminderBody
	}
	if n.AllMembers.Roster == nil {
		n.AllMembers.Roster = d.Notify.AllMembers.Roster
	}
	if n.AllMembers.Title == "" {
		n.AllMembers.Title = d.Notify.AllMembers.Title
	}
	if c.Colors == nil {
		c.Colors = d.Colors
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	for _, wd := range c.Notify.Trash.Weekdays {
		if _, err := ParseWeekday(wd); err != nil {
			errs = append(errs, fmt.Errorf("notify.trash.weekdays: %w", err))
		}
	}
	if _, _, err := ParseClock(c.Notify.Trash.Time); err != nil {
		errs = append(errs, fmt.Errorf("notify.trash.time: %w", err))
	}
	if d := c.Notify.Rent.DueDay; d < 1 || d > 31 {
		errs = append(errs, fmt.Errorf("notify.rent.due_day %d out of range 1-31", d))
	}
	if d := c.Notify.Rent.ReminderDay; d < 1 || d > 31 {
		errs = append(errs, fmt.Errorf("notify.rent.reminder_day %d out of range 1-31", d))
	}
	if h := c.Notify.Rent.Hour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("notify.rent.hour %d out of range 0-23", h))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push: both VAPID keys must be set together"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC.
// Addr is the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday returns the configured first day of the week.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// ApplyEnv overrides fields from COHABIT_* environment variables. getenv is
// usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Host, "COHABIT_HOST")
	set(&c.Port, "COHABIT_PORT")
	set(&c.DBPath, "COHABIT_DB_PATH")
	set(&c.API.BaseURL, "COHABIT_API_URL")
	set(&c.Log.Level, "COHABIT_LOG_LEVEL")
	set(&c.Log.Format, "COHABIT_LOG_FORMAT")
	set(&c.Push.VAPIDPublicKey, "COHABIT_VAPID_PUBLIC_KEY")
	set(&c.Push.VAPIDPrivateKey, "COHABIT_VAPID_PRIVATE_KEY")
	set(&c.Storage.Secret, "COHABIT_STORAGE_SECRET")
	set(&c.AdminEmail, "COHABIT_ADMIN_EMAIL")
	if v := getenv("COHABIT_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.API.Timeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.API.Timeout = time.Duration(secs) * time.Second
		}
	}
}

// Load reads the YAML file at path, creating it with defaults on first run,
// then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cohabit-config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Update applies fn to the file at path without environment overrides and
// saves it, so values that came from the environment are not persisted.
func Update(path string, fn func(*Config)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	fn(cfg)
	return Save(path, cfg)
}
