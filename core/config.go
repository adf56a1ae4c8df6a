package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName          string
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string
		WorkDir          string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Media    MediaConfig
		Cleanup  CleanupConfig
		Devices  DevicesConfig
	}

	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		InMemory      bool // dev only: use in-memory repositories
	}

	RedisConfig struct {
		Addr            string // empty disables the tenant config cache
		Password        string
		DB              int
		TenantConfigTTL time.Duration
	}

	MediaConfig struct {
		Workers       int
		RTCMinPort    uint16
		RTCMaxPort    uint16
		ListenIP      string
		AnnouncedIP   string
		GatherTimeout time.Duration
	}

	CleanupConfig struct {
		Interval               time.Duration
		Timeout                time.Duration
		DefaultAutoCleanupDays int
	}

	// DevicesConfig holds the quotas applied when a school has no limit configured for a role family.
	DevicesConfig struct {
		FallbackLimits map[string]int
	}
)

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed by the current env, eg. `PROD_DATABASE_HOST`.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Masomo Live")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("defaultFromEmail", "Masomo <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "masomo_live")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.inMemory", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tenantConfigTTL", 5*time.Minute)

	v.SetDefault("media.workers", 2)
	v.SetDefault("media.rtcMinPort", 40000)
	v.SetDefault("media.rtcMaxPort", 49999)
	v.SetDefault("media.listenIP", "0.0.0.0")
	v.SetDefault("media.announcedIP", "")
	v.SetDefault("media.gatherTimeout", 5*time.Second)

	v.SetDefault("cleanup.interval", 24*time.Hour)
	v.SetDefault("cleanup.timeout", time.Minute)
	v.SetDefault("cleanup.defaultAutoCleanupDays", 30)

	v.SetDefault("devices.fallback.teacher", 3)
	v.SetDefault("devices.fallback.admin", 2)
	v.SetDefault("devices.fallback.student", 1)
	v.SetDefault("devices.fallback.other", 1)

	// load .env if it exists (ignore if it does not)
	workDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatal(fmt.Errorf("config.defaultFromEmail: %v", err))
	}

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: *fromEmail,
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		WorkDir:          workDir,
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			InMemory:      v.GetBool("database.inMemory"),
		},
		Redis: RedisConfig{
			Addr:            v.GetString("redis.addr"),
			Password:        v.GetString("redis.password"),
			DB:              v.GetInt("redis.db"),
			TenantConfigTTL: v.GetDuration("redis.tenantConfigTTL"),
		},
		Media: MediaConfig{
			Workers:       v.GetInt("media.workers"),
			RTCMinPort:    uint16(v.GetUint32("media.rtcMinPort")),
			RTCMaxPort:    uint16(v.GetUint32("media.rtcMaxPort")),
			ListenIP:      v.GetString("media.listenIP"),
			AnnouncedIP:   v.GetString("media.announcedIP"),
			GatherTimeout: v.GetDuration("media.gatherTimeout"),
		},
		Cleanup: CleanupConfig{
			Interval:               v.GetDuration("cleanup.interval"),
			Timeout:                v.GetDuration("cleanup.timeout"),
			DefaultAutoCleanupDays: v.GetInt("cleanup.defaultAutoCleanupDays"),
		},
		Devices: DevicesConfig{
			FallbackLimits: map[string]int{
				FamilyTeacher: v.GetInt("devices.fallback.teacher"),
				FamilyAdmin:   v.GetInt("devices.fallback.admin"),
				FamilyStudent: v.GetInt("devices.fallback.student"),
				FamilyOther:   v.GetInt("devices.fallback.other"),
			},
		},
	}
}
