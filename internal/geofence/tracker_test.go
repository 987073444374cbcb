package geofence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/parkpal/internal/models"
)

func TestTrackerEvaluateEntersReportAtUserPosition(t *testing.T) {
	tracker := NewTracker()
	reports := []models.ParkingReport{report("r1", madison, true, fixedNow)}

	delta := tracker.Evaluate(&madison, reports, 0.3, true)

	require.Equal(t, []string{"r1"}, delta.Entered)
	require.Empty(t, delta.Left)
	require.Equal(t, []string{"r1"}, tracker.Membership())
}

func TestTrackerEvaluateIsIdempotent(t *testing.T) {
	tracker := NewTracker()
	reports := []models.ParkingReport{
		report("r1", madison, true, fixedNow),
		report("r2", madisonAfar, true, fixedNow),
		report("r3", madison, false, fixedNow),
	}

	first := tracker.Evaluate(&madison, reports, 0.3, true)
	require.Equal(t, []string{"r1"}, first.Entered)

	second := tracker.Evaluate(&madison, reports, 0.3, true)
	require.True(t, second.Empty())
	require.Equal(t, []string{"r1"}, tracker.Membership())
}

func TestTrackerEvaluateReportsExitWhenUserMoves(t *testing.T) {
	tracker := NewTracker()
	reports := []models.ParkingReport{report("r1", madison, true, fixedNow)}

	tracker.Evaluate(&madison, reports, 0.3, true)
	delta := tracker.Evaluate(&madisonAfar, reports, 0.3, true)

	require.Empty(t, delta.Entered)
	require.Equal(t, []string{"r1"}, delta.Left)
	require.Empty(t, tracker.Membership())
}

func TestTrackerEvaluateExitThenReentry(t *testing.T) {
	tracker := NewTracker()
	reports := []models.ParkingReport{report("r1", madison, true, fixedNow)}

	var entered int
	for _, loc := range []Location{madison, madisonAfar, madison, madisonAfar, madison} {
		delta := tracker.Evaluate(&loc, reports, 0.3, true)
		entered += len(delta.Entered)
	}
	require.Equal(t, 3, entered)
}

func TestTrackerEvaluateLeavesWhenReportBecomesUnavailable(t *testing.T) {
	tracker := NewTracker()
	tracker.Evaluate(&madison, []models.ParkingReport{report("r1", madison, true, fixedNow)}, 0.3, true)

	taken := []models.ParkingReport{report("r1", madison, false, fixedNow)}
	delta := tracker.Evaluate(&madison, taken, 0.3, true)

	require.Equal(t, []string{"r1"}, delta.Left)
}

func TestTrackerEvaluateGatedInputsDoNotMutate(t *testing.T) {
	reports := []models.ParkingReport{report("r1", madison, true, fixedNow)}

	tests := []struct {
		name    string
		loc     *Location
		reports []models.ParkingReport
		enabled bool
	}{
		{name: "notifications disabled", loc: &madison, reports: reports, enabled: false},
		{name: "unknown location", loc: nil, reports: reports, enabled: true},
		{name: "no reports", loc: &madisonAfar, reports: nil, enabled: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tracker := NewTracker()
			tracker.Evaluate(&madison, reports, 0.3, true)

			delta := tracker.Evaluate(tc.loc, tc.reports, 0.3, tc.enabled)
			require.True(t, delta.Empty())
			require.Equal(t, []string{"r1"}, tracker.Membership())
		})
	}
}

func TestTrackerEvaluateDisabledNeverNotifies(t *testing.T) {
	tracker := NewTracker()
	reports := []models.ParkingReport{report("r1", madison, true, fixedNow)}

	for i := 0; i < 3; i++ {
		require.True(t, tracker.Evaluate(&madison, reports, 1.0, false).Empty())
	}
	require.Empty(t, tracker.Membership())
}

func TestTrackerEvaluateRespectsRadius(t *testing.T) {
	tracker := NewTracker()
	// About 1.6 miles from the user.
	reports := []models.ParkingReport{report("far", madisonAfar, true, fixedNow)}

	require.True(t, tracker.Evaluate(&madison, reports, 1.0, true).Empty())

	delta := tracker.Evaluate(&madison, reports, 2.0, true)
	require.Equal(t, []string{"far"}, delta.Entered)
}

func TestTrackerEvaluateSkipsMalformedReports(t *testing.T) {
	tracker := NewTracker()
	missingCoords := models.ParkingReport{IsAvailable: true}
	missingCoords.ID = "no-coords"
	noID := report("", madison, true, fixedNow)
	outOfRange := report("bad-lat", Location{Latitude: 123, Longitude: 0}, true, fixedNow)

	delta := tracker.Evaluate(&madison, []models.ParkingReport{
		missingCoords,
		noID,
		outOfRange,
		report("ok", madison, true, fixedNow),
	}, 0.3, true)

	require.Equal(t, []string{"ok"}, delta.Entered)
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker()
	reports := []models.ParkingReport{report("r1", madison, true, time.Now())}

	tracker.Evaluate(&madison, reports, 0.3, true)
	tracker.Reset()

	require.Empty(t, tracker.Membership())
	require.Equal(t, []string{"r1"}, tracker.Evaluate(&madison, reports, 0.3, true).Entered)
}

func TestTrackerSeedReportsStaleMembershipAsLeft(t *testing.T) {
	tracker := NewTracker()
	tracker.Seed([]string{"r1", "r2", ""})
	require.Equal(t, []string{"r1", "r2"}, tracker.Membership())

	reports := []models.ParkingReport{
		report("r1", madison, true, fixedNow),
		report("r2", madisonAfar, true, fixedNow),
	}
	delta := tracker.Evaluate(&madison, reports, 0.3, true)
	require.Empty(t, delta.Entered)
	require.Equal(t, []string{"r2"}, delta.Left)
	require.Equal(t, []string{"r1"}, tracker.Membership())
}
