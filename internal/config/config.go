package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the global configuration stored at ~/.wpprtc/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
}

// Load reads the global config from path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to path with 0600 permissions.
func Save(path string, cfg *Config) error {
	return write(path, cfg)
}

// Duration is a time.Duration stored as a string such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Profile is the per-profile configuration stored in profile.toml.
type Profile struct {
	Identity  Identity  `toml:"identity"`
	Transport Transport `toml:"transport"`
	Remote    Remote    `toml:"remote"`
	Chat      Chat      `toml:"chat"`
	Call      Call      `toml:"call"`
	Log       Log       `toml:"log"`
}

type Identity struct {
	UserID         string `toml:"user_id"`
	Username       string `toml:"username"`
	ProfilePicture string `toml:"profile_picture"`
	Token          string `toml:"token"`
}

type Transport struct {
	URL          string   `toml:"url"`
	MaxRetries   int      `toml:"max_retries"`
	RetryDelay   Duration `toml:"retry_delay"`
	WriteTimeout Duration `toml:"write_timeout"`
	PingInterval Duration `toml:"ping_interval"`
}

type Remote struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

type Chat struct {
	TypingIdle Duration `toml:"typing_idle"`
	// RetryOnReconnect resends failed messages whenever the link comes back.
	RetryOnReconnect bool `toml:"retry_on_reconnect"`
}

type Call struct {
	ICEServers      []string `toml:"ice_servers"`
	ReceiveOnly     bool     `toml:"receive_only"`
	AcceptDelay     Duration `toml:"accept_delay"`
	EndGrace        Duration `toml:"end_grace"`
	DisconnectGrace Duration `toml:"disconnect_grace"`
}

type Log struct {
	Level string `toml:"level"`
}

// Defaults returns a profile with every tunable filled in.
func Defaults() Profile {
	return Profile{
		Transport: Transport{
			MaxRetries:   5,
			RetryDelay:   Duration{time.Second},
			WriteTimeout: Duration{10 * time.Second},
			PingInterval: Duration{25 * time.Second},
		},
		Remote: Remote{Timeout: Duration{30 * time.Second}},
		Chat:   Chat{TypingIdle: Duration{3 * time.Second}},
		Call: Call{
			AcceptDelay:     Duration{500 * time.Millisecond},
			EndGrace:        Duration{2 * time.Second},
			DisconnectGrace: Duration{2 * time.Second},
		},
		Log: Log{Level: "info"},
	}
}

// LoadProfile reads a profile file on top of Defaults. Keys absent from
// the file keep their default value.
func LoadProfile(path string) (*Profile, error) {
	p := Defaults()
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile writes p to path with 0600 permissions.
func SaveProfile(path string, p *Profile) error {
	return write(path, p)
}

// Validate reports the first missing setting the daemon cannot run without.
func (p *Profile) Validate() error {
	switch {
	case p.Transport.URL == "":
		return fmt.Errorf("transport.url is required")
	case p.Remote.BaseURL == "":
		return fmt.Errorf("remote.base_url is required")
	case p.Identity.Token == "" && p.Identity.UserID == "":
		return fmt.Errorf("identity.token or identity.user_id is required")
	}
	switch p.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", p.Log.Level)
	}
	return nil
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(v)
}
