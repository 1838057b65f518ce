// Package catalog builds trial lists and affect-image pools from the study's
// spreadsheet catalogs.
package catalog

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/metrics"
	"github.com/soaringjerry/moderator/internal/models"
	"github.com/soaringjerry/moderator/internal/services"
)

// Layout gives the zero-based column of each catalog field.
type Layout struct {
	Label          int `yaml:"label"`
	SpoofTimes     int `yaml:"spoof_times"`
	Duration       int `yaml:"duration"`
	Media          int `yaml:"media"`
	AffectPath     int `yaml:"affect_path"`
	AffectQuadrant int `yaml:"affect_quadrant"`
}

func DefaultLayout() Layout {
	return Layout{Label: 4, SpoofTimes: 5, Duration: 6, Media: 8, AffectPath: 1, AffectQuadrant: 3}
}

func (l Layout) stimulusWidth() int {
	return max(l.Label, l.SpoofTimes, l.Duration, l.Media) + 1
}

func (l Layout) affectWidth() int {
	return max(l.AffectPath, l.AffectQuadrant) + 1
}

type Config struct {
	ProjectRoot  string
	StimuliPath  string
	AffectPath   string
	Layout       Layout
	MediaExt     string
	Subsample    int
	Placeholders int
}

const (
	placeholderIntervals = "1.0 - 2.0"
	placeholderDuration  = 5.0
	placeholderQuadrant  = "LV-TEST"
)

// Loader reads catalogs. Parsed rows are cached until Invalidate is called;
// every LoadTrials call reshuffles.
type Loader struct {
	cfg Config

	mu          sync.Mutex
	rng         *rand.Rand
	stimuliRows [][]string
	affectRows  [][]string
}

func NewLoader(cfg Config, rng *rand.Rand) *Loader {
	if cfg.MediaExt == "" {
		cfg.MediaExt = ".mp4"
	}
	if !strings.HasPrefix(cfg.MediaExt, ".") {
		cfg.MediaExt = "." + cfg.MediaExt
	}
	if cfg.Placeholders <= 0 {
		cfg.Placeholders = 3
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &Loader{cfg: cfg, rng: rng}
}

// Invalidate drops cached catalog rows.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stimuliRows = nil
	l.affectRows = nil
}

// LoadTrials returns the shuffled, optionally subsampled, trial list. A
// missing or unreadable catalog degrades to placeholder trials.
func (l *Loader) LoadTrials(ctx context.Context) ([]models.Trial, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.cachedRows(&l.stimuliRows, l.cfg.StimuliPath)
	if err != nil {
		if errors.Is(err, errMissing) {
			logger.Warn("catalog: stimuli catalog missing, using placeholders", "path", l.cfg.StimuliPath)
		} else {
			logger.Error("catalog: stimuli catalog unreadable, using placeholders", "path", l.cfg.StimuliPath, "error", err)
		}
		return placeholderTrials(l.cfg.Placeholders), nil
	}

	lay := l.cfg.Layout
	trials := make([]models.Trial, 0, len(rows))
	for i, row := range rows {
		number := i + 1
		if len(row) < lay.stimulusWidth() {
			logger.Warn("catalog: stimulus row too short", "row", number, "columns", len(row))
			metrics.ObserveCatalogRowSkipped("stimuli", "short_row")
			continue
		}
		media, ok := resolveMedia(resolvePath(l.cfg.ProjectRoot, cell(row, lay.Media)), l.cfg.MediaExt)
		if !ok {
			logger.Warn("catalog: no media match", "row", number, "media", cell(row, lay.Media))
			metrics.ObserveCatalogRowSkipped("stimuli", "unresolved_media")
			trials = append(trials, placeholderTrial(number))
			continue
		}
		duration := services.ParseDuration(cell(row, lay.Duration))
		if duration <= 0 {
			logger.Warn("catalog: stimulus duration unusable", "row", number, "duration", cell(row, lay.Duration))
			metrics.ObserveCatalogRowSkipped("stimuli", "bad_duration")
			trials = append(trials, placeholderTrial(number))
			continue
		}
		raw := cell(row, lay.SpoofTimes)
		trials = append(trials, models.Trial{
			StimulusNumber: number,
			Media:          media,
			Duration:       duration,
			Label:          models.ParseGTLabel(cell(row, lay.Label)),
			IntervalsRaw:   raw,
			Intervals:      withinDuration(number, services.ParseSpoofIntervals(raw), duration),
		})
	}
	if len(trials) == 0 {
		logger.Warn("catalog: stimuli catalog has no rows, using placeholders", "path", l.cfg.StimuliPath)
		return placeholderTrials(l.cfg.Placeholders), nil
	}
	l.rng.Shuffle(len(trials), func(i, j int) { trials[i], trials[j] = trials[j], trials[i] })
	if l.cfg.Subsample > 0 && len(trials) > l.cfg.Subsample {
		trials = trials[:l.cfg.Subsample]
	}
	return trials, nil
}

// LoadAffectImages returns the shuffled images whose quadrant starts with the
// valence prefix and whose file exists.
func (l *Loader) LoadAffectImages(ctx context.Context, valence models.Valence) ([]models.AffectImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.cachedRows(&l.affectRows, l.cfg.AffectPath)
	if err != nil {
		if !errors.Is(err, errMissing) {
			logger.Error("catalog: affect catalog unreadable", "path", l.cfg.AffectPath, "error", err)
		}
		return []models.AffectImage{}, nil
	}
	prefix := strings.ToUpper(string(valence))
	lay := l.cfg.Layout
	images := []models.AffectImage{}
	for _, row := range rows {
		raw, quadrant := cell(row, lay.AffectPath), cell(row, lay.AffectQuadrant)
		if raw == "" || quadrant == "" {
			continue
		}
		p := resolvePath(l.cfg.ProjectRoot, raw)
		if !exists(p) {
			metrics.ObserveCatalogRowSkipped("affect", "missing_file")
			continue
		}
		if strings.HasPrefix(quadrant, prefix) {
			images = append(images, models.AffectImage{Path: p, Quadrant: quadrant})
		}
	}
	l.rng.Shuffle(len(images), func(i, j int) { images[i], images[j] = images[j], images[i] })
	return images, nil
}

func (l *Loader) cachedRows(slot *[][]string, path string) ([][]string, error) {
	if *slot != nil {
		return *slot, nil
	}
	if strings.TrimSpace(path) == "" {
		return nil, errMissing
	}
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	*slot = rows
	return rows, nil
}

// withinDuration clamps ground-truth intervals to [0, duration]. Intervals
// starting after the clip ends are dropped.
func withinDuration(row int, intervals []models.Interval, duration float64) []models.Interval {
	out := make([]models.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start > duration {
			logger.Warn("catalog: spoof interval after end of clip dropped", "row", row, "start", iv.Start, "end", iv.End, "duration", duration)
			continue
		}
		if iv.End > duration {
			logger.Warn("catalog: spoof interval clamped to clip", "row", row, "end", iv.End, "duration", duration)
			iv.End = duration
		}
		out = append(out, iv)
	}
	return out
}

func placeholderTrial(number int) models.Trial {
	return models.Trial{
		StimulusNumber: number,
		Duration:       placeholderDuration,
		Label:          models.LabelPartialSpoof,
		IntervalsRaw:   placeholderIntervals,
		Intervals:      services.ParseSpoofIntervals(placeholderIntervals),
		Quadrant:       placeholderQuadrant,
		Placeholder:    true,
	}
}

func placeholderTrials(n int) []models.Trial {
	out := make([]models.Trial, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, placeholderTrial(i+1))
	}
	return out
}
