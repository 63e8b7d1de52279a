package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/events"
)

type evaluatorFixture struct {
	eval     *Evaluator
	commands *fakeCommander
	events   *recorder
}

func newEvaluatorFixture(t *testing.T, schedules ScheduleSource, opts ...EvaluatorOption) *evaluatorFixture {
	t.Helper()
	f := &evaluatorFixture{
		commands: &fakeCommander{failFor: map[device.ID]bool{}},
		events:   &recorder{},
	}
	opts = append([]EvaluatorOption{WithLocation(time.UTC)}, opts...)
	f.eval = NewEvaluator(schedules, testCatalog(t), f.commands, f.events, opts...)
	return f
}

func (f *evaluatorFixture) tick(hour, minute int) {
	at := day(hour, minute)
	f.commands.setMinute(MinuteOf(at).String())
	f.eval.Tick(context.Background(), at)
}

func TestEvaluator_StartFiresOncePerMinute(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{window("a", "LED1", "08:00", "08:05", ActionOn)})

	f.tick(8, 0)
	f.tick(8, 0)

	assert.Equal(t, []command{{At: "08:00", Device: device.LED1, On: true}}, f.commands.recorded())
	assert.Equal(t, []device.ID{device.LED1}, f.eval.Active("a"))

	fired := f.events.ofKind(events.KindScheduleFired)
	require.Len(t, fired, 1)
	assert.Equal(t, "Début de la plage horaire", fired[0].Title)
	assert.Equal(t, "Plage horaire de 08:00 à 08:05, Action On", fired[0].Body)
	assert.Equal(t, []string{"LED1"}, fired[0].Data["devices"])
}

func TestEvaluator_EndSendsOffAndClearsFlag(t *testing.T) {
	// The configured action is Off; the end transition is still Off.
	f := newEvaluatorFixture(t, staticSource{window("a", "LED2", "10:00", "10:30", ActionOff)})

	f.tick(10, 0)
	f.commands.reset()

	f.tick(10, 30)
	f.tick(10, 30)

	assert.Equal(t, []command{{At: "10:30", Device: device.LED2, On: false}}, f.commands.recorded())
	assert.Empty(t, f.eval.Active("a"))

	ended := f.events.ofKind(events.KindScheduleEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "Fin de la plage horaire", ended[0].Title)
	assert.Equal(t, "Fin de la plage horaire de 10:00 à 10:30, remis à l'état initial.", ended[0].Body)
}

func TestEvaluator_EndWithoutFlagDoesNothing(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{window("a", "LED1", "08:00", "08:05", ActionOn)})

	f.tick(8, 5)

	assert.Empty(t, f.commands.recorded())
	assert.Empty(t, f.events.ofKind(events.KindScheduleEnded))
}

func TestEvaluator_DisabledNeverFires(t *testing.T) {
	schedules := staticSource{
		window("a", "LED1", "08:00", "08:05", ActionOn),
		window("b", TargetAll, "23:00", "01:00", ActionOff),
		window("c", "LED2", "12:00", "12:00", ActionOn),
	}
	for i := range schedules {
		schedules[i].Enabled = false
	}
	f := newEvaluatorFixture(t, schedules)

	for m := 0; m < MinutesPerDay; m++ {
		f.tick(m/60, m%60)
	}

	assert.Empty(t, f.commands.recorded())
}

func TestEvaluator_EmptyWindowNeverFires(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{window("a", "LED1", "12:00", "12:00", ActionOn)})

	f.tick(11, 59)
	f.tick(12, 0)
	f.tick(12, 1)

	assert.Empty(t, f.commands.recorded())
	assert.Empty(t, f.eval.Active("a"))
}

func TestEvaluator_AllDevicesTrackedIndependently(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{window("all", TargetAll, "08:00", "09:00", ActionOn)})

	f.commands.failFor[device.LED2] = true
	f.tick(8, 0)
	assert.Equal(t, []device.ID{device.LED1}, f.eval.Active("all"))
	require.Len(t, f.events.ofKind(events.KindScheduleCommandFailed), 1)

	// LED2 has no flag, so a repeated start minute retries only LED2.
	f.commands.failFor[device.LED2] = false
	f.tick(8, 0)
	assert.Equal(t, []device.ID{device.LED1, device.LED2}, f.eval.Active("all"))

	f.commands.reset()
	f.tick(9, 0)
	assert.Equal(t, []command{
		{At: "09:00", Device: device.LED1, On: false},
		{At: "09:00", Device: device.LED2, On: false},
	}, f.commands.recorded())
	assert.Empty(t, f.eval.Active("all"))
}

func TestEvaluator_AllDevicesEndOnlyFlagged(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{window("all", TargetAll, "08:00", "09:00", ActionOn)})

	f.commands.failFor[device.LED1] = true
	f.tick(8, 0)
	f.commands.failFor[device.LED1] = false
	f.commands.reset()

	f.tick(9, 0)

	assert.Equal(t, []command{{At: "09:00", Device: device.LED2, On: false}}, f.commands.recorded())
}

func TestEvaluator_PublishFailureContinues(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{
		window("a", "LED1", "08:00", "08:05", ActionOn),
		window("b", "LED2", "08:00", "08:05", ActionOn),
	})
	f.commands.failFor[device.LED1] = true

	f.tick(8, 0)

	assert.Equal(t, []command{{At: "08:00", Device: device.LED2, On: true}}, f.commands.recorded())
	assert.Empty(t, f.eval.Active("a"))
	assert.Equal(t, []device.ID{device.LED2}, f.eval.Active("b"))

	failed := f.events.ofKind(events.KindScheduleCommandFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].Data["schedule_id"])
}

func TestEvaluator_InvalidScheduleSkipped(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{
		window("bad", "LED9", "08:00", "08:05", ActionOn),
		{ID: "bad-time", Target: "LED1", Start: 5000, End: 1, Action: ActionOn, Enabled: true},
		window("good", "LED2", "08:00", "08:05", ActionOn),
	})

	assert.NotPanics(t, func() { f.tick(8, 0) })
	assert.Equal(t, []command{{At: "08:00", Device: device.LED2, On: true}}, f.commands.recorded())
}

func TestEvaluator_Scenario(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{
		window("led1", "LED1", "08:00", "08:05", ActionOn),
		window("led2", "LED2", "08:02", "08:10", ActionOn),
	})

	for at := day(7, 59); !at.After(day(8, 11)); at = at.Add(time.Minute) {
		f.tick(at.Hour(), at.Minute())
	}

	assert.Equal(t, []command{
		{At: "08:00", Device: device.LED1, On: true},
		{At: "08:02", Device: device.LED2, On: true},
		{At: "08:05", Device: device.LED1, On: false},
		{At: "08:10", Device: device.LED2, On: false},
	}, f.commands.recorded())
}

func TestEvaluator_MidnightWrap(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{window("night", "LED1", "23:30", "00:15", ActionOn)})

	f.tick(23, 30)
	f.tick(0, 15)

	assert.Equal(t, []command{
		{At: "23:30", Device: device.LED1, On: true},
		{At: "00:15", Device: device.LED1, On: false},
	}, f.commands.recorded())
}

func TestEvaluator_ResumeArmsOpenWindows(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{
		window("night", "LED1", "23:00", "01:00", ActionOn),
		window("later", "LED2", "02:00", "03:00", ActionOn),
		window("now", "LED2", "00:30", "02:00", ActionOn),
	})

	n := f.eval.Resume(context.Background(), day(0, 30))

	assert.Equal(t, 1, n)
	assert.Empty(t, f.commands.recorded(), "resume without reapply sends nothing")
	assert.Equal(t, []device.ID{device.LED1}, f.eval.Active("night"))
	assert.Empty(t, f.eval.Active("now"), "a window opening now is left to Tick")

	resumed := f.events.ofKind(events.KindScheduleResumed)
	require.Len(t, resumed, 1)
	assert.Equal(t, "night", resumed[0].Data["schedule_id"])

	f.tick(1, 0)
	assert.Equal(t, []command{{At: "01:00", Device: device.LED1, On: false}}, f.commands.recorded())
}

func TestEvaluator_ResumeReapply(t *testing.T) {
	f := newEvaluatorFixture(t, staticSource{window("a", TargetAll, "08:00", "18:00", ActionOn)},
		WithReapplyOnResume(true))

	f.eval.Resume(context.Background(), day(12, 0))
	f.eval.Resume(context.Background(), day(12, 1))

	cmds := f.commands.recorded()
	require.Len(t, cmds, 2)
	assert.True(t, cmds[0].On)
	assert.Equal(t, device.LED2, cmds[1].Device)
}

func TestEvaluator_RefreshAndForget(t *testing.T) {
	schedules := staticSource{window("a", "LED1", "08:00", "09:00", ActionOn)}
	f := newEvaluatorFixture(t, schedules)

	f.tick(8, 0)
	require.Equal(t, []device.ID{device.LED1}, f.eval.Active("a"))

	// Edited to target LED2 while the window is open.
	schedules[0].Target = "LED2"
	f.eval.Refresh("a", day(8, 30))
	assert.Equal(t, []device.ID{device.LED2}, f.eval.Active("a"))

	// Edited to a window that is no longer open.
	schedules[0].Start = MustMinuteOfDay(10, 0)
	schedules[0].End = MustMinuteOfDay(11, 0)
	f.eval.Refresh("a", day(8, 30))
	assert.Empty(t, f.eval.Active("a"))

	f.tick(10, 0)
	require.Equal(t, []device.ID{device.LED2}, f.eval.Active("a"))
	f.eval.Forget("a")
	assert.Empty(t, f.eval.Active("a"))
}

func TestEvaluator_TimezoneConversion(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("tzdata not available")
	}
	f := newEvaluatorFixture(t, staticSource{window("a", "LED1", "08:00", "08:05", ActionOn)}, WithLocation(paris))

	// 06:00 UTC is 08:00 in Paris in October (CEST).
	f.eval.Tick(context.Background(), day(6, 0))

	require.Len(t, f.commands.recorded(), 1)
}

func TestEvaluator_MinuteAlignedLoop(t *testing.T) {
	clock := newFakeClock(day(7, 59).Add(42500 * time.Millisecond))
	f := newEvaluatorFixture(t, staticSource{window("a", "LED1", "08:00", "08:05", ActionOn)}, WithClock(clock))

	require.NoError(t, f.eval.Start(context.Background()))
	assert.ErrorIs(t, f.eval.Start(context.Background()), ErrEvaluatorRunning)

	assert.Equal(t, 17500*time.Millisecond, <-clock.waits)
	assert.Empty(t, f.commands.recorded())

	clock.set(day(8, 0))
	clock.fire <- day(8, 0)
	assert.Equal(t, time.Minute, <-clock.waits)
	assert.Len(t, f.commands.recorded(), 1)

	f.eval.Stop()
	f.eval.Stop()

	// Flags survive Stop.
	assert.Equal(t, []device.ID{device.LED1}, f.eval.Active("a"))
}

func TestEvaluator_StartWaitsForMinuteBoundary(t *testing.T) {
	clock := newFakeClock(day(8, 0).Add(30 * time.Second))
	f := newEvaluatorFixture(t, staticSource{
		window("starting", "LED1", "08:00", "08:05", ActionOn),
		window("open", "LED2", "07:00", "09:00", ActionOn),
	}, WithClock(clock))

	require.NoError(t, f.eval.Start(context.Background()))
	t.Cleanup(f.eval.Stop)

	assert.Equal(t, 30*time.Second, <-clock.waits)
	assert.Empty(t, f.commands.recorded())
	assert.Empty(t, f.eval.Active("open"), "nothing is resumed before the broker is up")
}

func TestEvaluator_BrokerConnectedResumesOnce(t *testing.T) {
	clock := newFakeClock(day(8, 30))
	f := newEvaluatorFixture(t, staticSource{
		window("open", "LED1", "08:00", "09:00", ActionOn),
	}, WithClock(clock), WithReapplyOnResume(true))

	assert.False(t, f.eval.BrokerConnected(), "not started")

	require.NoError(t, f.eval.Start(context.Background()))
	t.Cleanup(f.eval.Stop)
	<-clock.waits

	assert.True(t, f.eval.BrokerConnected())
	assert.False(t, f.eval.BrokerConnected(), "a reconnect does not resume again")

	assert.Equal(t, []command{{At: "", Device: device.LED1, On: true}}, f.commands.recorded())
	assert.Equal(t, []device.ID{device.LED1}, f.eval.Active("open"))
	assert.Len(t, f.events.ofKind(events.KindScheduleResumed), 1)
}

func TestEvaluator_StartWithoutResume(t *testing.T) {
	clock := newFakeClock(day(8, 30))
	f := newEvaluatorFixture(t, staticSource{
		window("open", "LED2", "07:00", "09:00", ActionOn),
	}, WithClock(clock), WithResumeOnStart(false))

	require.NoError(t, f.eval.Start(context.Background()))
	t.Cleanup(f.eval.Stop)
	<-clock.waits

	assert.False(t, f.eval.BrokerConnected())
	assert.Empty(t, f.eval.Active("open"))
	assert.Empty(t, f.commands.recorded())
}

func TestUntilNextMinute(t *testing.T) {
	assert.Equal(t, time.Minute, untilNextMinute(day(8, 0)))
	assert.Equal(t, time.Second, untilNextMinute(day(8, 0).Add(59*time.Second)))
}
