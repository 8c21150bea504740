// Package config centralizes every knob the Organizing Pipeline reads from
// its environment into one typed value, constructed once at startup and
// threaded through the dependency graph by the Orchestrator.
package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the complete configuration surface for the organizing pipeline.
type Config struct {
	Paths      PathsConfig
	Recognition RecognitionConfig
	Backend    BackendConfig
	Parallel   ParallelConfig
	Cluster    ClusterConfig
	Database   DatabaseConfig
	Status     StatusConfig
	HNSW       HNSWConfig
}

// PathsConfig locates the three roots every relative path in the system is
// resolved against.
type PathsConfig struct {
	InputRoot  string // contains student_photos/ and class_photos/
	OutputRoot string // the organized output tree and .state/
	LogRoot    string // reference-embedding cache and logs
}

// RecognitionConfig tunes the Matcher (C7).
type RecognitionConfig struct {
	Tolerance     float64 // matcher distance threshold
	MinFaceSize   int     // minimum face bounding-box side, px
	MaxRefsPerPerson int  // cap on reference images kept per person
}

// BackendConfig pins the BackendDescriptor and the C2 HTTP endpoint.
type BackendConfig struct {
	Engine        string
	Model         string
	EmbeddingURL  string
	EmbeddingDim  int
}

// ParallelConfig controls the Recognition Driver's mode decision (C6).
type ParallelConfig struct {
	Enabled                bool
	Workers                int
	ChunkSize              int
	MinPhotos              int
	ForceSerial            bool
	ForceParallel          bool
	ForceParallelMinOverride bool
}

// ClusterConfig controls Unknown Clustering (C8).
type ClusterConfig struct {
	Enabled        bool
	Threshold      float64
	MinClusterSize int
}

// DatabaseConfig configures the optional domain-stack accelerators: a
// Postgres/pgvector mirror of reference embeddings, and an optional MariaDB
// roster for cross-checking Person folder names.
type DatabaseConfig struct {
	URL          string // Postgres DSN, empty disables the mirror
	MaxOpenConns int
	MaxIdleConns int
	RosterDSN    string // MariaDB/MySQL DSN, empty disables roster cross-check
}

// StatusConfig controls the optional read-only status HTTP server.
type StatusConfig struct {
	Enabled bool
	Addr    string
}

// HNSWConfig controls when the Matcher/Clustering build an approximate
// nearest-neighbor shortlist instead of scanning every embedding.
type HNSWConfig struct {
	MatchThreshold   int
	ClusterThreshold int
}

type defaultsFile struct {
	HNSW struct {
		MatchThreshold   int `yaml:"match_threshold"`
		ClusterThreshold int `yaml:"cluster_threshold"`
	} `yaml:"hnsw"`
	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

// Load builds a Config from the embedded defaults plus environment
// overrides. It never fails: the embedded YAML is known-good at build time,
// and every environment variable has a safe fallback.
func Load() *Config {
	var d defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// The embedded file is part of the binary; a parse failure here is
		// a build-time defect, not a runtime condition callers can recover
		// from.
		panic("config: failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Paths: PathsConfig{
			InputRoot:  envString("INPUT_ROOT", "input"),
			OutputRoot: envString("OUTPUT_ROOT", "output"),
			LogRoot:    envString("LOG_ROOT", "logs"),
		},
		Recognition: RecognitionConfig{
			Tolerance:        envFloat("TOLERANCE", 0.6),
			MinFaceSize:      envInt("MIN_FACE_SIZE", 50),
			MaxRefsPerPerson: envInt("MAX_REFS_PER_PERSON", 5),
		},
		Backend: BackendConfig{
			Engine:       envString("BACKEND_ENGINE", "insightface"),
			Model:        envString("EMBEDDING_MODEL", "buffalo_l"),
			EmbeddingURL: envString("EMBEDDING_URL", "http://localhost:8000"),
			EmbeddingDim: envInt("EMBEDDING_DIM", 512),
		},
		Parallel: ParallelConfig{
			Enabled:                  envBool("PARALLEL_ENABLED", true),
			Workers:                  envInt("PARALLEL_WORKERS", 6),
			ChunkSize:                envInt("PARALLEL_CHUNK_SIZE", 12),
			MinPhotos:                envInt("PARALLEL_MIN_PHOTOS", 30),
			ForceSerial:              envBool("FORCE_SERIAL", false),
			ForceParallel:            envBool("FORCE_PARALLEL", false),
			ForceParallelMinOverride: envBool("FORCE_PARALLEL_MIN_PHOTOS_OVERRIDE", false),
		},
		Cluster: ClusterConfig{
			Enabled:        envBool("CLUSTER_ENABLED", true),
			Threshold:      envFloat("CLUSTER_THRESHOLD", 0.45),
			MinClusterSize: envInt("CLUSTER_MIN_SIZE", 2),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			RosterDSN:    os.Getenv("ROSTER_DSN"),
		},
		Status: StatusConfig{
			Enabled: envBool("STATUS_ENABLED", false),
			Addr:    envString("STATUS_ADDR", d.Status.Addr),
		},
		HNSW: HNSWConfig{
			MatchThreshold:   envInt("HNSW_MATCH_THRESHOLD", d.HNSW.MatchThreshold),
			ClusterThreshold: envInt("HNSW_CLUSTER_THRESHOLD", d.HNSW.ClusterThreshold),
		},
	}
}
