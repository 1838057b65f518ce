package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/moderator/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingSink struct {
	markers []string
	accept  bool
}

func (s *recordingSink) Push(marker string) (float64, bool) {
	s.markers = append(s.markers, marker)
	return float64(len(s.markers)) * 0.5, s.accept
}

func TestActionLogWithoutSink(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	log := NewActionLog(nil, clock.Now, 0)
	e := log.Append(models.ActionAddFlag, models.FlagDetail(models.Flag{ID: "f1", Time: 1}))
	assert.Nil(t, e.TSStream)
	assert.Equal(t, 1000.0, e.TSWall)
	assert.Equal(t, 1, log.Len())
}

func TestActionLogStampsAcceptedMarkers(t *testing.T) {
	sink := &recordingSink{accept: true}
	log := NewActionLog(sink, nil, 3)
	e := log.Append(models.ActionUpdateSlider, models.ActionDetail{Slider: "3_flag_slider"})
	require.NotNil(t, e.TSStream)
	assert.Equal(t, 0.5, *e.TSStream)

	log.Append(models.ActionAddSegment, models.SegmentDetail(models.Segment{ID: "s1", Start: 1.5, End: 2}))
	assert.Equal(t, []string{
		"update_slider|trial=3|slider:3_flag_slider",
		"add_segment|trial=3|id:s1|segment:1.5-2",
	}, sink.markers)

	sink.accept = false
	e = log.Append(models.ActionNextTrial, models.TrialDetail(3))
	assert.Nil(t, e.TSStream)
	assert.Equal(t, "next_trial|trial=3|", sink.markers[2])
}

func TestEntriesIsACopy(t *testing.T) {
	log := NewActionLog(nil, nil, 0)
	log.Append(models.ActionAddFlag, models.ActionDetail{})
	got := log.Entries()
	got[0].Action = models.ActionDeleteFlag
	assert.Equal(t, models.ActionAddFlag, log.Entries()[0].Action)
}

func TestComputeAnswerValidity(t *testing.T) {
	clock := &fakeClock{t: time.Unix(2000, 0)}
	start := clock.Now()
	log := NewActionLog(nil, clock.Now, 0)

	clock.Advance(2 * time.Second)
	log.Append(models.ActionUpdateSlider, models.ActionDetail{})
	clock.Advance(4 * time.Second)
	log.Append(models.ActionEvalResponse, models.ActionDetail{Question: "q", Answer: "a"})
	clock.Advance(time.Second)
	log.Append(models.ActionAddFlag, models.ActionDetail{})

	v := ComputeAnswerValidity(start, log.Entries(), 5)
	require.NotNil(t, v.WaitedSeconds)
	assert.Equal(t, 6.0, *v.WaitedSeconds)
	assert.True(t, v.IsValid)
	assert.Equal(t, ValiditySourceWallClock, v.Source)

	v = ComputeAnswerValidity(start, log.Entries(), 6.5)
	assert.False(t, v.IsValid)
}

func TestComputeAnswerValidityWithoutAnswer(t *testing.T) {
	log := NewActionLog(nil, nil, 0)
	log.Append(models.ActionUpdateSlider, models.ActionDetail{})
	v := ComputeAnswerValidity(time.Now(), log.Entries(), 3)
	assert.Nil(t, v.WaitedSeconds)
	assert.False(t, v.IsValid)
	assert.Equal(t, ValiditySourceNone, v.Source)

	v = ComputeAnswerValidity(time.Time{}, nil, 3)
	assert.Equal(t, ValiditySourceNone, v.Source)
	assert.Equal(t, 3.0, v.RequiredWait)
}
