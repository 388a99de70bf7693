package budget

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func activeTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker("p1", testLogger())
	require.True(t, tr.Activate())
	return tr
}

func page(url string, status models.CrawlStatus) models.PageRecord {
	return models.PageRecord{URL: url, CrawlStatus: status}
}

func TestTracker_ScheduleDedups(t *testing.T) {
	tr := activeTracker(t)

	assert.True(t, tr.Schedule("https://a.example/"))
	assert.False(t, tr.Schedule("https://a.example/"), "second schedule of the same URL must be rejected")
	assert.True(t, tr.Schedule("https://a.example/fees"))

	assert.Equal(t, 2, tr.Pending())
	assert.True(t, tr.Seen("https://a.example/"))
	assert.False(t, tr.Seen("https://a.example/other"))
}

func TestTracker_SeenAtScheduleNotResolve(t *testing.T) {
	tr := activeTracker(t)
	require.True(t, tr.Schedule("https://a.example/"))

	// Still in flight, but already seen
	assert.True(t, tr.Seen("https://a.example/"))
	assert.False(t, tr.Schedule("https://a.example/"))
}

func TestTracker_ScheduleRequiresActive(t *testing.T) {
	tr := NewTracker("p1", testLogger())
	assert.False(t, tr.Schedule("https://a.example/"), "queued tracker must not accept work")
	assert.Equal(t, 0, tr.Pending())
	assert.False(t, tr.Seen("https://a.example/"))
}

func TestTracker_ResolveReturnsPostDecrement(t *testing.T) {
	tr := activeTracker(t)
	require.True(t, tr.Schedule("r"))
	require.True(t, tr.Schedule("c1"))
	require.True(t, tr.Schedule("c2"))

	n, err := tr.Resolve(page("r", models.CrawlStatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = tr.Resolve(page("c1", models.CrawlStatusFailed))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.Resolve(page("c2", models.CrawlStatusSkippedNonHTML))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.Pages)
	assert.Equal(t, 1, snap.Success)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
}

func TestTracker_ResolveUnderflow(t *testing.T) {
	tr := activeTracker(t)

	n, err := tr.Resolve(page("x", models.CrawlStatusSuccess))

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrBudgetUnderflow)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 0, tr.Snapshot().Pages, "rejected resolution must not be recorded")
}

func TestTracker_FinalizeExactlyOnce(t *testing.T) {
	tr := activeTracker(t)
	require.True(t, tr.Schedule("r"))

	assert.False(t, tr.BeginFinalize(), "cannot finalize with work pending")

	_, err := tr.Resolve(page("r", models.CrawlStatusSuccess))
	require.NoError(t, err)

	assert.True(t, tr.BeginFinalize())
	assert.False(t, tr.BeginFinalize(), "second finalize must be a no-op")
	assert.Equal(t, models.ProjectStatusFinalizing, tr.Status())

	assert.True(t, tr.Complete())
	assert.False(t, tr.Complete())
	assert.False(t, tr.BeginFinalize())
	assert.Equal(t, models.ProjectStatusCompleted, tr.Status())
}

func TestTracker_EmptyProjectFinalizesImmediately(t *testing.T) {
	tr := activeTracker(t)

	require.True(t, tr.BeginFinalize())
	require.True(t, tr.Complete())

	res := tr.Result(models.Project{ID: "p1"}, time.Now())
	assert.Equal(t, 0, res.TotalPages)
	assert.Empty(t, res.Pages)
	assert.Equal(t, models.ProjectStatusCompleted, res.Status)
	assert.Equal(t, 0.0, res.SuccessRate)
}

func TestTracker_NoScheduleAfterFinalize(t *testing.T) {
	tr := activeTracker(t)
	require.True(t, tr.BeginFinalize())

	assert.False(t, tr.Schedule("late"))
	assert.Equal(t, 0, tr.Pending())
}

func TestTracker_Interrupt(t *testing.T) {
	tr := activeTracker(t)
	assert.True(t, tr.Interrupt())
	assert.False(t, tr.Interrupt())
	assert.False(t, tr.BeginFinalize())
	assert.Equal(t, models.ProjectStatusInterrupted, tr.Status())
}

func TestTracker_Result(t *testing.T) {
	tr := activeTracker(t)
	for _, u := range []string{"r", "a", "b", "c"} {
		require.True(t, tr.Schedule(u))
	}
	tr.Resolve(page("r", models.CrawlStatusSuccess))
	tr.Resolve(page("a", models.CrawlStatusSuccess))
	tr.Resolve(page("b", models.CrawlStatusFailed))
	tr.Resolve(page("c", models.CrawlStatusSkippedNonHTML))
	require.True(t, tr.BeginFinalize())
	require.True(t, tr.Complete())

	p := models.Project{ID: "p1", DisplayName: "MSc", RootURL: "r", SourceTag: "tag"}
	crawlTime := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	res := tr.Result(p, crawlTime)

	assert.Equal(t, "p1", res.ProjectID)
	assert.Equal(t, "tag", res.SourceTag)
	assert.Equal(t, crawlTime, res.CrawlTime)
	assert.Equal(t, 4, res.TotalPages)
	assert.Equal(t, 2, res.SuccessfulPages)
	assert.Equal(t, 1, res.FailedPages)
	assert.Equal(t, 1, res.SkippedPages)
	assert.InDelta(t, 2.0/3.0, res.SuccessRate, 1e-9)
	assert.Equal(t, []string{"r", "a", "b", "c"}, []string{res.Pages[0].URL, res.Pages[1].URL, res.Pages[2].URL, res.Pages[3].URL})
}

func TestTracker_ConcurrentSnapshots(t *testing.T) {
	tr := activeTracker(t)
	const n = 200
	for i := 0; i < n; i++ {
		require.True(t, tr.Schedule(fmt.Sprintf("https://a.example/%d", i)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			snap := tr.Snapshot()
			assert.GreaterOrEqual(t, snap.Pending, 0)
		}
	}()

	for i := 0; i < n; i++ {
		_, err := tr.Resolve(page("x", models.CrawlStatusSuccess))
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, 0, tr.Pending())
	assert.True(t, tr.BeginFinalize())
}
