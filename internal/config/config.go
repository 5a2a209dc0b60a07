package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Store    Store    `yaml:"store"`
	Identity Identity `yaml:"identity"`
	Mail     Mail     `yaml:"mail"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	AdminToken    string `yaml:"adminToken"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Store struct {
	Driver        string        `yaml:"driver"` // redis, memcached, postgres, memory
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	MemcachedAddr string        `yaml:"memcachedAddr"`
	PostgresDsn   string        `yaml:"postgresDsn"`
	Timeout       time.Duration `yaml:"timeout"`
	AtomicIndex   bool          `yaml:"atomicIndex"`
}

type Identity struct {
	TempCodeSalt    string `yaml:"tempCodeSalt"`
	AccessTokenSalt string `yaml:"accessTokenSalt"`
	// VerifyURL is expanded with {userId} and {code}.
	VerifyURL   string        `yaml:"verifyURL"`
	MailTimeout time.Duration `yaml:"mailTimeout"`
}

type Mail struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	FromName string `yaml:"fromName"`
}

func Default() Config {
	return Config{
		Server: Server{
			Listen: ":8080",
		},
		Store: Store{
			Driver:    "redis",
			RedisAddr: "localhost:6379",
			Timeout:   3 * time.Second,
		},
		Identity: Identity{
			VerifyURL:   "https://ornot.vote/auth/{userId}/{code}",
			MailTimeout: 30 * time.Second,
		},
		Mail: Mail{
			Port:     587,
			FromName: "ornot",
		},
	}
}

// Load reads the yaml file at path (optional) on top of Default, then applies
// the environment, including a .env file in the working directory.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer file.Close()

		err = yaml.NewDecoder(file).Decode(&config)
		if err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	config.ApplyEnv(os.Getenv)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// ApplyEnv overrides secrets and addresses from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Identity.TempCodeSalt, "TEMP_CODE_SALT")
	set(&c.Identity.AccessTokenSalt, "ACCESS_TOKEN_SALT")
	set(&c.Mail.Host, "SMTP_HOST")
	set(&c.Mail.Address, "EMAIL_ADDRESS")
	set(&c.Mail.Password, "EMAIL_PASSWORD")
	set(&c.Server.AdminToken, "ADMIN_TOKEN")
	set(&c.Store.PostgresDsn, "DATABASE_URL")

	addr := strings.TrimSpace(getenv("REDIS_ADDR"))
	port := strings.TrimSpace(getenv("REDIS_PORT"))
	if addr != "" && port != "" {
		c.Store.RedisAddr = addr + ":" + port
	} else if addr != "" {
		c.Store.RedisAddr = addr
	}
}

func (c Config) Validate() error {
	if c.Identity.TempCodeSalt == "" {
		return fmt.Errorf("identity.tempCodeSalt (or TEMP_CODE_SALT) is required")
	}
	if c.Identity.AccessTokenSalt == "" {
		return fmt.Errorf("identity.accessTokenSalt (or ACCESS_TOKEN_SALT) is required")
	}
	switch c.Store.Driver {
	case "redis", "memcached", "memory":
	case "postgres":
		if c.Store.PostgresDsn == "" {
			return fmt.Errorf("store.postgresDsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
