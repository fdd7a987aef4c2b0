// Package config provides configuration management for the clipper service.
// Values start from built-in defaults, are overlaid by an optional TOML file,
// and finally by environment variables (a .env file in the working directory
// is loaded first without overriding variables that are already set).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort         = 3000
	DefaultBindAddress  = "127.0.0.1"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultDataDir      = "./data"
	DefaultUploadDir    = "./uploads"
	DefaultClipsDir     = "./clips"
	DefaultMaxFileSize  = 100 * 1024 * 1024 // 100 MiB
	DefaultAspectRatio  = "9:16"
	DefaultTargetWidth  = 1080
	DefaultTargetHeight = 1920
	DefaultClipDuration = 60 // seconds
	DefaultClipCount    = 3

	DefaultTranscriptionModel = "whisper-1"
	DefaultHighlightModel     = "gpt-4"

	DefaultFFmpegPath        = "ffmpeg"
	DefaultRenderConcurrency = 1
	DefaultRenderPreset      = "fast"
	DefaultRenderCRF         = 23

	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	// Environment variable names
	EnvConfigFile        = "CLIPPER_CONFIG"
	EnvPort              = "PORT"
	EnvPortAlt           = "CLIPPER_PORT"
	EnvBindAddress       = "CLIPPER_BIND_ADDRESS"
	EnvLogLevel          = "CLIPPER_LOG_LEVEL"
	EnvLogFormat         = "CLIPPER_LOG_FORMAT"
	EnvDataDir           = "CLIPPER_DATA_DIR"
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvOpenAIBaseURL     = "OPENAI_BASE_URL"
	EnvMaxFileSize       = "MAX_FILE_SIZE"
	EnvUploadDir         = "UPLOAD_DIR"
	EnvClipsDir          = "CLIPS_DIR"
	EnvClipDuration      = "CLIP_DURATION"
	EnvTargetWidth       = "CLIPPER_TARGET_WIDTH"
	EnvTargetHeight      = "CLIPPER_TARGET_HEIGHT"
	EnvFFmpegPath        = "CLIPPER_FFMPEG_PATH"
	EnvRenderConcurrency = "CLIPPER_RENDER_CONCURRENCY"
	EnvAPIToken          = "CLIPPER_API_TOKEN"
	EnvStoreDriver       = "CLIPPER_STORE"

	// Database filename
	DBFilename   = "clipper.db"
	LockFilename = "clipper.lock"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	BindAddress() string
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	LockPath() string
	StoreDriver() string
	APIToken() string

	OpenAIKey() string
	OpenAIBaseURL() string
	TranscriptionModel() string
	HighlightModel() string

	MaxFileSize() int64
	UploadDir() string
	ClipsDir() string

	TargetAspectRatio() string
	TargetWidth() int
	TargetHeight() int
	ClipDuration() int
	DefaultClipCount() int

	FFmpegPath() string
	RenderConcurrency() int
	RenderPreset() string
	RenderCRF() int
}

// fileConfig mirrors the TOML layout. Zero values leave defaults untouched.
type fileConfig struct {
	Port      int    `toml:"port"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	DataDir   string `toml:"data_dir"`

	OpenAI struct {
		APIKey             string `toml:"api_key"`
		BaseURL            string `toml:"base_url"`
		TranscriptionModel string `toml:"transcription_model"`
		HighlightModel     string `toml:"highlight_model"`
	} `toml:"openai"`

	Upload struct {
		MaxFileSize int64  `toml:"max_file_size"`
		UploadDir   string `toml:"upload_dir"`
		ClipsDir    string `toml:"clips_dir"`
	} `toml:"upload"`

	Video struct {
		TargetAspectRatio string `toml:"target_aspect_ratio"`
		TargetWidth       int    `toml:"target_width"`
		TargetHeight      int    `toml:"target_height"`
		ClipDuration      int    `toml:"clip_duration"`
		ClipCount         int    `toml:"clip_count"`
	} `toml:"video"`

	Render struct {
		FFmpegPath  string `toml:"ffmpeg_path"`
		Concurrency int    `toml:"concurrency"`
		Preset      string `toml:"preset"`
		CRF         int    `toml:"crf"`
	} `toml:"render"`

	Server struct {
		BindAddress string `toml:"bind_address"`
		APIToken    string `toml:"api_token"`
	} `toml:"server"`

	Store struct {
		Driver string `toml:"driver"`
	} `toml:"store"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port        int
	bindAddress string
	logLevel    string
	logFormat   string
	dataDir     string
	storeDriver string
	apiToken    string

	openAIKey          string
	openAIBaseURL      string
	transcriptionModel string
	highlightModel     string

	maxFileSize int64
	uploadDir   string
	clipsDir    string

	aspectRatio  string
	targetWidth  int
	targetHeight int
	clipDuration int
	clipCount    int

	ffmpegPath        string
	renderConcurrency int
	renderPreset      string
	renderCRF         int

	source string
}

// New loads configuration using the file named by CLIPPER_CONFIG, if any.
func New() (*EnvConfig, error) {
	return Load("")
}

// Load builds a configuration from defaults, the TOML file at path (or
// CLIPPER_CONFIG when path is empty), .env, and the process environment.
// A missing file is not an error.
func Load(path string) (*EnvConfig, error) {
	// .env is optional; a parse error on an existing file is reported.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:               DefaultPort,
		bindAddress:        DefaultBindAddress,
		logLevel:           DefaultLogLevel,
		logFormat:          DefaultLogFormat,
		dataDir:            DefaultDataDir,
		storeDriver:        StoreSQLite,
		transcriptionModel: DefaultTranscriptionModel,
		highlightModel:     DefaultHighlightModel,
		maxFileSize:        DefaultMaxFileSize,
		uploadDir:          DefaultUploadDir,
		clipsDir:           DefaultClipsDir,
		aspectRatio:        DefaultAspectRatio,
		targetWidth:        DefaultTargetWidth,
		targetHeight:       DefaultTargetHeight,
		clipDuration:       DefaultClipDuration,
		clipCount:          DefaultClipCount,
		ffmpegPath:         DefaultFFmpegPath,
		renderConcurrency:  DefaultRenderConcurrency,
		renderPreset:       DefaultRenderPreset,
		renderCRF:          DefaultRenderCRF,
	}
}

func (c *EnvConfig) applyFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var fc fileConfig
	if err := toml.NewDecoder(file).Decode(&fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setInt(&c.port, fc.Port)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.logFormat, fc.LogFormat)
	setString(&c.dataDir, fc.DataDir)

	setString(&c.openAIKey, fc.OpenAI.APIKey)
	setString(&c.openAIBaseURL, fc.OpenAI.BaseURL)
	setString(&c.transcriptionModel, fc.OpenAI.TranscriptionModel)
	setString(&c.highlightModel, fc.OpenAI.HighlightModel)

	if fc.Upload.MaxFileSize != 0 {
		c.maxFileSize = fc.Upload.MaxFileSize
	}
	setString(&c.uploadDir, fc.Upload.UploadDir)
	setString(&c.clipsDir, fc.Upload.ClipsDir)

	setString(&c.aspectRatio, fc.Video.TargetAspectRatio)
	setInt(&c.targetWidth, fc.Video.TargetWidth)
	setInt(&c.targetHeight, fc.Video.TargetHeight)
	setInt(&c.clipDuration, fc.Video.ClipDuration)
	setInt(&c.clipCount, fc.Video.ClipCount)

	setString(&c.ffmpegPath, fc.Render.FFmpegPath)
	setInt(&c.renderConcurrency, fc.Render.Concurrency)
	setString(&c.renderPreset, fc.Render.Preset)
	setInt(&c.renderCRF, fc.Render.CRF)

	setString(&c.bindAddress, fc.Server.BindAddress)
	setString(&c.apiToken, fc.Server.APIToken)
	setString(&c.storeDriver, fc.Store.Driver)

	c.source = path
	return nil
}

func (c *EnvConfig) applyEnv() error {
	for _, name := range []string{EnvPort, EnvPortAlt} {
		if err := envInt(name, &c.port); err != nil {
			return err
		}
	}
	if err := envInt(EnvClipDuration, &c.clipDuration); err != nil {
		return err
	}
	if err := envInt(EnvTargetWidth, &c.targetWidth); err != nil {
		return err
	}
	if err := envInt(EnvTargetHeight, &c.targetHeight); err != nil {
		return err
	}
	if err := envInt(EnvRenderConcurrency, &c.renderConcurrency); err != nil {
		return err
	}

	if v := os.Getenv(EnvMaxFileSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxFileSize, err)
		}
		c.maxFileSize = n
	}

	setString(&c.bindAddress, os.Getenv(EnvBindAddress))
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.logFormat, os.Getenv(EnvLogFormat))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.openAIKey, os.Getenv(EnvOpenAIKey))
	setString(&c.openAIBaseURL, os.Getenv(EnvOpenAIBaseURL))
	setString(&c.uploadDir, os.Getenv(EnvUploadDir))
	setString(&c.clipsDir, os.Getenv(EnvClipsDir))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.apiToken, os.Getenv(EnvAPIToken))
	setString(&c.storeDriver, strings.ToLower(os.Getenv(EnvStoreDriver)))
	return nil
}

// Validate checks value ranges after all layers have been applied.
func (c *EnvConfig) Validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.targetWidth <= 0 || c.targetHeight <= 0 {
		return fmt.Errorf("invalid target geometry %dx%d", c.targetWidth, c.targetHeight)
	}
	if c.clipDuration <= 0 {
		return fmt.Errorf("invalid clip duration %d: must be positive", c.clipDuration)
	}
	if c.clipCount < 1 {
		return fmt.Errorf("invalid clip count %d: must be at least 1", c.clipCount)
	}
	if c.maxFileSize <= 0 {
		return fmt.Errorf("invalid max file size %d: must be positive", c.maxFileSize)
	}
	if c.renderConcurrency < 1 {
		return fmt.Errorf("invalid render concurrency %d: must be at least 1", c.renderConcurrency)
	}
	switch c.storeDriver {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("invalid store driver %q: want %s or %s", c.storeDriver, StoreSQLite, StoreMemory)
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

func (c *EnvConfig) BindAddress() string {
	return c.bindAddress
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns json, text, or auto.
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LockPath returns the path of the single-instance lock file
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

func (c *EnvConfig) StoreDriver() string {
	return c.storeDriver
}

// APIToken returns the bearer token guarding the API. Empty disables auth.
func (c *EnvConfig) APIToken() string {
	return c.apiToken
}

// OpenAIKey returns the API key. Empty selects the placeholder transcript
// and the fallback highlight strategy.
func (c *EnvConfig) OpenAIKey() string {
	return c.openAIKey
}

func (c *EnvConfig) OpenAIBaseURL() string {
	return c.openAIBaseURL
}

func (c *EnvConfig) TranscriptionModel() string {
	return c.transcriptionModel
}

func (c *EnvConfig) HighlightModel() string {
	return c.highlightModel
}

// MaxFileSize returns the upload byte cap
func (c *EnvConfig) MaxFileSize() int64 {
	return c.maxFileSize
}

func (c *EnvConfig) UploadDir() string {
	return c.uploadDir
}

func (c *EnvConfig) ClipsDir() string {
	return c.clipsDir
}

// TargetAspectRatio is informational; geometry comes from width and height.
func (c *EnvConfig) TargetAspectRatio() string {
	return c.aspectRatio
}

func (c *EnvConfig) TargetWidth() int {
	return c.targetWidth
}

func (c *EnvConfig) TargetHeight() int {
	return c.targetHeight
}

// ClipDuration returns the maximum clip length in seconds
func (c *EnvConfig) ClipDuration() int {
	return c.clipDuration
}

func (c *EnvConfig) DefaultClipCount() int {
	return c.clipCount
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) RenderConcurrency() int {
	return c.renderConcurrency
}

func (c *EnvConfig) RenderPreset() string {
	return c.renderPreset
}

func (c *EnvConfig) RenderCRF() int {
	return c.renderCRF
}

// Source returns the config file that was applied, or empty.
func (c *EnvConfig) Source() string {
	return c.source
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
