package model

import (
	"errors"
	"time"
)

// ErrInput marks errors caused by unusable document input. These are fatal
// for the document and never retried.
var ErrInput = errors.New("invalid input")

// Mood is the emotional register of a scene.
type Mood string

const (
	MoodInformative   Mood = "informative"
	MoodInspirational Mood = "inspirational"
	MoodWarm          Mood = "warm"
	MoodCorporate     Mood = "corporate"
)

// Valid reports whether m is one of the four scene moods.
func (m Mood) Valid() bool {
	switch m {
	case MoodInformative, MoodInspirational, MoodWarm, MoodCorporate:
		return true
	}
	return false
}

// Scene duration bounds in seconds.
const (
	MinSceneDuration     = 6
	MaxSceneDuration     = 15
	DefaultSceneDuration = 10
)

// Scene is a single planned video segment.
type Scene struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	Narration      string `json:"narration"`
	OnScreenText   string `json:"on_screen_text"`
	VisualKeywords string `json:"visual_keywords"`
	Mood           Mood   `json:"mood"`
	Duration       int    `json:"duration_seconds"`
}

// VisualQueryBundle holds the stock-footage search queries derived from one scene.
type VisualQueryBundle struct {
	RefinedKeywords   []string `json:"refined_keywords"`
	PrimaryQuery      string   `json:"primary_query"`
	SecondaryQuery    string   `json:"secondary_query"`
	BackupQueries     []string `json:"backup_queries"`
	MatchedPatternIDs []string `json:"matched_patterns"`
}

// VisualPattern is a knowledge base entry used to seed query refinement.
type VisualPattern struct {
	ID        string    `yaml:"id" json:"id"`
	Keywords  []string  `yaml:"keywords" json:"keywords"`
	Mood      string    `yaml:"mood" json:"mood"`
	Queries   []string  `yaml:"queries" json:"queries"`
	Embedding []float64 `yaml:"embedding,omitempty" json:"embedding,omitempty"`
}

// AssetSource identifies where a library asset was originally fetched from.
type AssetSource string

const (
	SourcePexels  AssetSource = "pexels"
	SourcePixabay AssetSource = "pixabay"
)

// AssetLibraryEntry is a previously downloaded asset kept for reuse.
type AssetLibraryEntry struct {
	ID          string            `json:"id"`
	SourceURL   string            `json:"source_url"`
	LocalPath   string            `json:"local_path"`
	OriginQuery string            `json:"origin_query"`
	Source      AssetSource       `json:"source"`
	Duration    float64           `json:"duration"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	AspectRatio string            `json:"aspect_ratio"`
	Keywords    []string          `json:"keywords"`
	Embedding   []float64         `json:"-"`
	UsageCount  int               `json:"usage_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsedAt  time.Time         `json:"last_used_at"`
}

// ResolvedFrom tells which step of the resolution chain produced an asset.
type ResolvedFrom string

const (
	FromLibrary   ResolvedFrom = "library"
	FromPrimary   ResolvedFrom = "primary"
	FromSecondary ResolvedFrom = "secondary"
	FromFallback  ResolvedFrom = "fallback"
)

// FetchedAsset is the per-scene outcome of asset resolution.
// A failed resolution carries no AssetPath.
type FetchedAsset struct {
	Success   bool              `json:"success"`
	AssetPath string            `json:"asset_path,omitempty"`
	AssetURL  string            `json:"asset_url,omitempty"`
	Source    ResolvedFrom      `json:"source"`
	Duration  float64           `json:"duration,omitempty"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ProcessingMetadata describes one document processing run.
type ProcessingMetadata struct {
	RunID            string    `json:"run_id" parquet:"run_id"`
	FileName         string    `json:"file_name" parquet:"file_name"`
	FileSize         int64     `json:"file_size" parquet:"file_size"`
	FileType         string    `json:"file_type" parquet:"file_type"`
	ProcessingTimeMS int64     `json:"processing_time_ms" parquet:"processing_time_ms"`
	TotalScenes      int       `json:"total_scenes" parquet:"total_scenes"`
	TotalDuration    int       `json:"total_duration" parquet:"total_duration"`
	AssetsResolved   int       `json:"assets_resolved" parquet:"assets_resolved"`
	Generated        bool      `json:"generated" parquet:"generated"`
	Success          bool      `json:"success" parquet:"success"`
	Error            string    `json:"error,omitempty" parquet:"error,optional"`
	Timestamp        time.Time `json:"timestamp" parquet:"timestamp"`
}
