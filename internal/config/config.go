package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	Target    TargetConfig    `mapstructure:"target"`
	Healing   HealingConfig   `mapstructure:"healing"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
}

type BrowserConfig struct {
	Engine          string        `mapstructure:"engine"` // chromedp, playwright
	ExecutablePath  string        `mapstructure:"executablePath"`
	Headless        bool          `mapstructure:"headless"`
	UserDataDir     string        `mapstructure:"userDataDir"`
	ActionTimeout   time.Duration `mapstructure:"actionTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	MaxSessions     int           `mapstructure:"maxSessions"`
	WindowWidth     int           `mapstructure:"windowWidth"`
	WindowHeight    int           `mapstructure:"windowHeight"`
	ScreenshotDir   string        `mapstructure:"screenshotDir"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"` // debug, info, warn, error
	Development bool   `mapstructure:"development"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	ApiKey         string   `mapstructure:"apiKey"`
}

// TargetConfig describes the application under test and how to log into it.
type TargetConfig struct {
	URL        string `mapstructure:"url"`
	LoginPath  string `mapstructure:"loginPath"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TOTPSecret string `mapstructure:"totpSecret"`
}

// HealingConfig holds the resolver's retry policy. The defaults were tuned
// against a single staging environment and are expected to be overridden.
type HealingConfig struct {
	MaxPasses         int           `mapstructure:"maxPasses"`
	PassBackoff       time.Duration `mapstructure:"passBackoff"`
	ProbeTimeout      time.Duration `mapstructure:"probeTimeout"`
	WaitTimeout       time.Duration `mapstructure:"waitTimeout"`
	NavigationRetries int           `mapstructure:"navigationRetries"`
	NavigationBackoff time.Duration `mapstructure:"navigationBackoff"`
	StaleRetries      int           `mapstructure:"staleRetries"`
	StaleBackoff      time.Duration `mapstructure:"staleBackoff"`
	ActionTimeout     time.Duration `mapstructure:"actionTimeout"`
	NavigationTimeout time.Duration `mapstructure:"navigationTimeout"`
	StableTimeout     time.Duration `mapstructure:"stableTimeout"`
	LoadingIndicators []string      `mapstructure:"loadingIndicators"`
	PopupClosers      []string      `mapstructure:"popupClosers"`
}

type GeneratorConfig struct {
	OutputDir    string        `mapstructure:"outputDir"`
	PackageName  string        `mapstructure:"packageName"`
	ModulePath   string        `mapstructure:"modulePath"` // href fragment identifying app modules
	SampleSize   int           `mapstructure:"sampleSize"`
	MaxLinks     int           `mapstructure:"maxLinks"`
	SettleTime   time.Duration `mapstructure:"settleTime"`
	SummaryFile  string        `mapstructure:"summaryFile"`
	SummaryYAML  string        `mapstructure:"summaryYaml"`
	ClickTimeout time.Duration `mapstructure:"clickTimeout"`
}

func LoadConfig(path string) (*Config, error) {
	// .env values never override variables that are already set.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.idleTimeout", "60s")

	v.SetDefault("browser.engine", "chromedp")
	v.SetDefault("browser.executablePath", "") // Attempt auto-detect if empty
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.userDataDir", "") // Empty means temporary profile
	v.SetDefault("browser.actionTimeout", "30s")
	v.SetDefault("browser.shutdownTimeout", "10s")
	v.SetDefault("browser.maxSessions", 4)
	v.SetDefault("browser.windowWidth", 1440)
	v.SetDefault("browser.windowHeight", 900)
	v.SetDefault("browser.screenshotDir", "test-results/screenshots")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("security.allowedOrigins", []string{"*"})
	v.SetDefault("security.apiKey", "")

	v.SetDefault("target.url", "https://staging.example.com")
	v.SetDefault("target.loginPath", "/login")
	v.SetDefault("target.username", "admin@example.com")
	v.SetDefault("target.password", "changeme")
	v.SetDefault("target.totpSecret", "")

	v.SetDefault("healing.maxPasses", 3)
	v.SetDefault("healing.passBackoff", "1s")
	v.SetDefault("healing.probeTimeout", "2s")
	v.SetDefault("healing.waitTimeout", "10s")
	v.SetDefault("healing.navigationRetries", 3)
	v.SetDefault("healing.navigationBackoff", "2s")
	v.SetDefault("healing.staleRetries", 3)
	v.SetDefault("healing.staleBackoff", "500ms")
	v.SetDefault("healing.actionTimeout", "5s")
	v.SetDefault("healing.navigationTimeout", "30s")
	v.SetDefault("healing.stableTimeout", "10s")
	v.SetDefault("healing.loadingIndicators", []string{})
	v.SetDefault("healing.popupClosers", []string{})

	v.SetDefault("generator.outputDir", "e2e/generated")
	v.SetDefault("generator.packageName", "generated")
	v.SetDefault("generator.modulePath", "/admin/")
	v.SetDefault("generator.sampleSize", 5)
	v.SetDefault("generator.maxLinks", 50)
	v.SetDefault("generator.settleTime", "1s")
	v.SetDefault("generator.summaryFile", "SUMMARY.md")
	v.SetDefault("generator.summaryYaml", "summary.yaml")
	v.SetDefault("generator.clickTimeout", "5s")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("goheal")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.goheal")
		v.AddConfigPath("/etc/goheal")
	}

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("GOHEAL")

	// The target trio also honours the plain names older suites used.
	_ = v.BindEnv("target.url", "GOHEAL_TARGET_URL", "BASE_URL")
	_ = v.BindEnv("target.username", "GOHEAL_TARGET_USERNAME", "TEST_USERNAME")
	_ = v.BindEnv("target.password", "GOHEAL_TARGET_PASSWORD", "TEST_PASSWORD")

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoginURL joins the target base URL and login path.
func (t TargetConfig) LoginURL() string {
	return strings.TrimRight(t.URL, "/") + "/" + strings.TrimLeft(t.LoginPath, "/")
}
