package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Tree backends.
const (
	BackendMemory   = "memory"
	BackendFirebase = "firebase"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Firebase holds the web app config keys and the admin credentials file.
type Firebase struct {
	DatabaseURL       string
	APIKey            string
	AuthDomain        string
	ProjectID         string
	StorageBucket     string
	MessagingSenderID string
	AppID             string
	MeasurementID     string
	CredentialsFile   string
	AuthToken         string
}

// Face configures the face service and the scan policy.
type Face struct {
	ServiceURL  string
	Skip        bool
	Model       string
	Detector    string
	Metric      string
	MaxDistance float64
	Workers     int
	CacheSize   int
}

// Cloudinary holds the optional capture archive credentials.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether all credentials are present.
func (c Cloudinary) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	MediaDir        string
	RegistryDir     string
	TempDir         string
	Timezone        string
	TreeBackend     string
	DatabaseURL     string
	SQLitePath      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	Firebase        Firebase
	Face            Face
	QueueBackend    string
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	KioskSecret     string
	AdminSecret     string
	RateLimitPerMin int
	Cloudinary      Cloudinary
	LogDir          string
	LogMaxAge       time.Duration
}

// Load reads .env when present, then returns config populated from
// environment variables with sensible defaults.
func Load() App {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	media := getEnv("MEDIA_DIR", "media")
	return App{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPPort:      getEnv("HTTP_PORT", "8081"),
		MediaDir:      media,
		RegistryDir:   underMedia(media, getEnv("REGISTRY_DIR", "registry")),
		TempDir:       underMedia(media, getEnv("TEMP_DIR", "temp")),
		Timezone:      getEnv("ATTENDANCE_TIMEZONE", "Asia/Colombo"),
		TreeBackend:   strings.ToLower(getEnv("TREE_BACKEND", BackendMemory)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "attendance.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       intEnv("REDIS_DB", 0),
		Firebase: Firebase{
			DatabaseURL:       getEnv("databaseURL", ""),
			APIKey:            getEnv("apiKey", ""),
			AuthDomain:        getEnv("authDomain", ""),
			ProjectID:         getEnv("projectId", ""),
			StorageBucket:     getEnv("storageBucket", ""),
			MessagingSenderID: getEnv("messagingSenderId", ""),
			AppID:             getEnv("appId", ""),
			MeasurementID:     getEnv("measurementId", ""),
			CredentialsFile:   getEnv("FIREBASE_CREDENTIALS_FILE", "./admin-cred.json"),
			AuthToken:         getEnv("FIREBASE_AUTH_TOKEN", ""),
		},
		Face: Face{
			ServiceURL:  getEnv("FACE_SERVICE_URL", "http://localhost:5000"),
			Skip:        boolEnv("FACE_SKIP", false),
			Model:       getEnv("FACE_MODEL", "Facenet512"),
			Detector:    getEnv("FACE_DETECTOR", "ssd"),
			Metric:      getEnv("FACE_METRIC", "euclidean_l2"),
			MaxDistance: floatEnv("SCAN_MAX_DISTANCE", 1.0),
			Workers:     intEnv("SCAN_WORKERS", 1),
			CacheSize:   intEnv("EMBED_CACHE_SIZE", 1024),
		},
		QueueBackend:    strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		JWTIssuer:       getEnv("JWT_ISSUER", "faceattend"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:       durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:      durationEnv("REFRESH_TTL", 24*time.Hour),
		KioskSecret:     getEnv("KIOSK_SECRET", ""),
		AdminSecret:     getEnv("ADMIN_SECRET", ""),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		Cloudinary: Cloudinary{
			CloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    getEnv("CLOUDINARY_API_KEY", ""),
			APISecret: getEnv("CLOUDINARY_API_SECRET", ""),
			Folder:    getEnv("CLOUDINARY_FOLDER", "attendance"),
		},
		LogDir:    getEnv("LOG_DIR", ""),
		LogMaxAge: durationEnv("LOG_MAX_AGE", 168*time.Hour),
	}
}

// Validate reports settings the selected backends cannot start without.
func (a App) Validate() error {
	var errs []error
	switch a.TreeBackend {
	case BackendMemory:
	case BackendFirebase:
		if a.Firebase.DatabaseURL == "" {
			errs = append(errs, errors.New("databaseURL is required for the firebase backend"))
		}
	case BackendPostgres:
		if a.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendSQLite:
		if a.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendRedis:
		if a.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TREE_BACKEND %q", a.TreeBackend))
	}
	switch a.QueueBackend {
	case "memory":
	case "redis":
		if a.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", a.QueueBackend))
	}
	if a.Face.MaxDistance <= 0 {
		errs = append(errs, errors.New("SCAN_MAX_DISTANCE must be positive"))
	}
	if a.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	return errors.Join(errs...)
}

func underMedia(media, dir string) string {
	if filepath.IsAbs(dir) || media == "" {
		return dir
	}
	return filepath.Join(media, dir)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			log.Printf("invalid bool for %s, using fallback %v", key, fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Printf("invalid int for %s, using fallback %d", key, fallback)
			return fallback
		}
		return parsed
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Printf("invalid float for %s, using fallback %g", key, fallback)
			return fallback
		}
		return parsed
	}
	return fallback
}
