package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/guardrail"
	"github.com/WFHTask/AI-interview/internal/httpapi"
	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/notify"
	"github.com/WFHTask/AI-interview/internal/ratelimit"
)

const (
	app       = "ai-interview"
	envPrefix = "AI_INTERVIEW"
)

type Config struct {
	JobsFile      string            `mapstructure:"jobs-file"`
	Jobs          []any             `mapstructure:"jobs"`
	Interview     interview.Config  `mapstructure:"interview"`
	Evaluation    evaluation.Config `mapstructure:"evaluation"`
	RateLimit     ratelimit.Config  `mapstructure:"rate-limit"`
	Guardrail     guardrail.Config  `mapstructure:"guardrail"`
	HTTP          httpapi.Config    `mapstructure:"http"`
	Storage       *StorageConfig    `mapstructure:"storage"`
	Redis         *RedisConfig      `mapstructure:"redis"`
	Notify        *notify.Config    `mapstructure:"notify"`
	AI            *AIConfig         `mapstructure:"ai"`
	SweepInterval time.Duration     `mapstructure:"sweep-interval"`
	AutoEvaluate  bool              `mapstructure:"auto-evaluate"`
}

type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey           string `mapstructure:"api-key"`
	APIKeyFile       string `mapstructure:"api-key-file"`
	InterviewerModel string `mapstructure:"interviewer-model"`
	EvaluatorModel   string `mapstructure:"evaluator-model"`
	MaxAttempts      int    `mapstructure:"max-attempts"`
	MaxLogLength     int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "ai-interview runs first-round candidate interviews with an AI interviewer and scores them",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	for key, env := range map[string]string{
		"ai.gemini.api-key":      "GEMINI_API_KEY",
		"ai.gemini.api-key-file": "GEMINI_API_KEY_FILE",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is ai-interview.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	limits := ratelimit.DefaultConfig()
	viper.SetDefault("rate-limit.session.max", limits.Session.Max)
	viper.SetDefault("rate-limit.session.window", limits.Session.Window)
	viper.SetDefault("rate-limit.client.max", limits.Client.Max)
	viper.SetDefault("rate-limit.client.window", limits.Client.Window)
	viper.SetDefault("rate-limit.global.max", limits.Global.Max)
	viper.SetDefault("rate-limit.global.window", limits.Global.Window)

	viper.SetDefault("storage.driver", "memory")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("sweep-interval", time.Minute)
	viper.SetDefault("auto-evaluate", true)
}

func initConfig() {
	// A missing .env is fine; a broken one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Only an explicitly requested config file is mandatory.
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
