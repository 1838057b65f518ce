package catalog

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/soaringjerry/moderator/internal/models"
)

func touch(t *testing.T, p string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
}

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func writeWorkbook(t *testing.T, path string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, r := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := r
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func stimulusHeader() []any {
	return []any{"id", "speaker", "text", "source", "label", "spoof_times", "duration", "notes", "media"}
}

func TestLoadTrialsFromWorkbook(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "media", "clip_one.mp4"))
	touch(t, filepath.Join(root, "media", "clip-two (final).mp4"))
	book := filepath.Join(root, "stimuli.xlsx")
	writeWorkbook(t, book, [][]any{
		stimulusHeader(),
		{"1", "a", "t", "s", "partial_spoof", "1.0 - 2.5", "6,5", "", `media\clip_one.mp4`},
		{"2", "a", "t", "s", "Bonafide", "", "4", "", "media/clip-two final.mp4"},
		{"3", "a", "t", "s", "full_spoof", "", "3", "", "media/absent.mp4"},
	})

	l := NewLoader(Config{ProjectRoot: root, StimuliPath: book, Layout: DefaultLayout()}, seeded())
	trials, err := l.LoadTrials(context.Background())
	require.NoError(t, err)
	require.Len(t, trials, 3)

	byNumber := map[int]models.Trial{}
	for _, tr := range trials {
		byNumber[tr.StimulusNumber] = tr
	}
	first := byNumber[1]
	assert.Equal(t, models.LabelPartialSpoof, first.Label)
	assert.Equal(t, 6.5, first.Duration)
	assert.Equal(t, []models.Interval{{Start: 1, End: 2.5}}, first.Intervals)
	assert.Equal(t, filepath.Join(root, "media", "clip_one.mp4"), first.Media)

	second := byNumber[2]
	assert.Equal(t, models.LabelBonafide, second.Label)
	assert.True(t, strings.HasSuffix(second.Media, "clip-two (final).mp4"), "fallback match, got %q", second.Media)

	third := byNumber[3]
	assert.True(t, third.Placeholder)
	assert.Empty(t, third.Media)
}

func TestLoadTrialsSkipsShortRowsAndSubsamples(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "b.mp4"))
	path := filepath.Join(root, "stimuli.csv")
	content := "id,speaker,text,source,label,spoof_times,duration,notes,media\n" +
		"1,,,,bonafide,,3,,a.mp4\n" +
		"2,,,,bonafide\n" +
		"3,,,,full_spoof,0-3,3,,b.mp4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l := NewLoader(Config{ProjectRoot: root, StimuliPath: path, Layout: DefaultLayout()}, seeded())
	trials, err := l.LoadTrials(context.Background())
	require.NoError(t, err)
	assert.Len(t, trials, 2)

	l = NewLoader(Config{ProjectRoot: root, StimuliPath: path, Layout: DefaultLayout(), Subsample: 1}, seeded())
	trials, err = l.LoadTrials(context.Background())
	require.NoError(t, err)
	assert.Len(t, trials, 1)
}

func TestLoadTrialsBoundsIntervalsAndDuration(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		touch(t, filepath.Join(root, name))
	}
	path := filepath.Join(root, "stimuli.csv")
	content := "id,speaker,text,source,label,spoof_times,duration,notes,media\n" +
		"1,,,,partial_spoof,\"1-2, 5-9, 7-8\",6,,a.mp4\n" +
		"2,,,,full_spoof,0-1,n/a,,b.mp4\n" +
		"3,,,,full_spoof,0-1,0,,c.mp4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	trials, err := NewLoader(Config{ProjectRoot: root, StimuliPath: path, Layout: DefaultLayout()}, seeded()).LoadTrials(context.Background())
	require.NoError(t, err)
	require.Len(t, trials, 3)
	byNumber := map[int]models.Trial{}
	for _, tr := range trials {
		byNumber[tr.StimulusNumber] = tr
	}

	first := byNumber[1]
	assert.False(t, first.Placeholder)
	assert.Equal(t, []models.Interval{{Start: 1, End: 2}, {Start: 5, End: 6}}, first.Intervals)
	for _, iv := range first.Intervals {
		assert.LessOrEqual(t, iv.End, first.Duration)
	}

	for _, n := range []int{2, 3} {
		tr := byNumber[n]
		assert.True(t, tr.Placeholder, "row %d", n)
		assert.Positive(t, tr.Duration)
		assert.Equal(t, n, tr.StimulusNumber)
	}
}

func TestLoadTrialsMissingCatalogGivesPlaceholders(t *testing.T) {
	l := NewLoader(Config{StimuliPath: filepath.Join(t.TempDir(), "nope.xlsx"), Layout: DefaultLayout()}, seeded())
	trials, err := l.LoadTrials(context.Background())
	require.NoError(t, err)
	require.Len(t, trials, 3)
	for i, tr := range trials {
		assert.True(t, tr.Placeholder)
		assert.Equal(t, i+1, tr.StimulusNumber)
		assert.Equal(t, "1.0 - 2.0", tr.IntervalsRaw)
		assert.Equal(t, 5.0, tr.Duration)
		assert.Equal(t, "LV-TEST", tr.Quadrant)
	}
}

func TestLoadTrialsCorruptWorkbookGivesPlaceholders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	l := NewLoader(Config{StimuliPath: path, Layout: DefaultLayout()}, seeded())
	trials, err := l.LoadTrials(context.Background())
	require.NoError(t, err)
	assert.Len(t, trials, 3)
}

func TestLoadTrialsHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(Config{}, nil).LoadTrials(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadAffectImagesFiltersByValence(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "img", "h1.jpg"))
	touch(t, filepath.Join(root, "img", "l1.jpg"))
	book := filepath.Join(root, "affect.xlsx")
	writeWorkbook(t, book, [][]any{
		{"id", "path", "desc", "quadrant"},
		{"1", `img\h1.jpg`, "", "HVHA-1"},
		{"2", "img/l1.jpg", "", "LVHA-2"},
		{"3", "img/gone.jpg", "", "HVHA-3"},
		{"4", "", "", "HVHA-4"},
	})
	l := NewLoader(Config{ProjectRoot: root, AffectPath: book, Layout: DefaultLayout()}, seeded())

	imgs, err := l.LoadAffectImages(context.Background(), models.ValenceHVHA)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "HVHA-1", imgs[0].Quadrant)
	assert.Equal(t, filepath.Join(root, "img", "h1.jpg"), imgs[0].Path)

	imgs, err = l.LoadAffectImages(context.Background(), models.ValenceLVHA)
	require.NoError(t, err)
	require.Len(t, imgs, 1)

	missing := NewLoader(Config{AffectPath: filepath.Join(root, "none.xlsx"), Layout: DefaultLayout()}, seeded())
	imgs, err = missing.LoadAffectImages(context.Background(), models.ValenceLVHA)
	require.NoError(t, err)
	assert.Empty(t, imgs)
}

func TestResolveMediaFallback(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "LA_0001_spoof.mp4"))
	touch(t, filepath.Join(dir, "other.wav"))

	got, ok := resolveMedia(filepath.Join(dir, "LA_0001.mp4"), ".mp4")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "LA_0001_spoof.mp4"), got)

	_, ok = resolveMedia(filepath.Join(dir, "zzz.mp4"), ".mp4")
	assert.False(t, ok)
	_, ok = resolveMedia("", ".mp4")
	assert.False(t, ok)
}
