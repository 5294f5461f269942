package observations_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orrerynet/orrery/observations"
	"github.com/orrerynet/orrery/shared"
)

type fakeProvider struct {
	calls    atomic.Int32
	failures int32
	err      error
	snapshot shared.ObservationSnapshot
}

func (f *fakeProvider) Snapshot(context.Context, shared.Domain, observations.Window) (shared.ObservationSnapshot, error) {
	call := f.calls.Add(1)
	if f.err != nil && (f.failures == 0 || call <= f.failures) {
		return shared.ObservationSnapshot{}, f.err
	}
	return f.snapshot, nil
}

func window(offset time.Duration) observations.Window {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(offset)
	return observations.Window{Start: start, End: start.Add(time.Hour)}
}

func TestCaching(t *testing.T) {
	t.Parallel()

	t.Run("hit avoids a second fetch", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{snapshot: shared.ObservationSnapshot{Domain: shared.CMB}}
		provider, err := observations.NewCaching(8, fake)
		require.NoError(t, err)

		first, err := provider.Snapshot(context.Background(), shared.CMB, window(0))
		require.NoError(t, err)
		second, err := provider.Snapshot(context.Background(), shared.CMB, window(0))
		require.NoError(t, err)
		require.Equal(t, first, second)
		require.EqualValues(t, 1, fake.calls.Load())
	})

	t.Run("window advance misses", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{}
		provider, err := observations.NewCaching(8, fake)
		require.NoError(t, err)

		_, err = provider.Snapshot(context.Background(), shared.CMB, window(0))
		require.NoError(t, err)
		_, err = provider.Snapshot(context.Background(), shared.CMB, window(time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 2, fake.calls.Load())
	})

	t.Run("no-data answers are cached", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{err: observations.ErrNoData}
		provider, err := observations.NewCaching(8, fake)
		require.NoError(t, err)

		_, err = provider.Snapshot(context.Background(), shared.CMB, window(0))
		require.ErrorIs(t, err, observations.ErrNoData)
		_, err = provider.Snapshot(context.Background(), shared.CMB, window(0))
		require.ErrorIs(t, err, observations.ErrNoData)
		require.EqualValues(t, 1, fake.calls.Load())
	})

	t.Run("transient failures are not cached", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{err: errors.New("connection refused"), failures: 1}
		provider, err := observations.NewCaching(8, fake)
		require.NoError(t, err)

		_, err = provider.Snapshot(context.Background(), shared.CMB, window(0))
		require.Error(t, err)
		_, err = provider.Snapshot(context.Background(), shared.CMB, window(0))
		require.NoError(t, err)
		require.EqualValues(t, 2, fake.calls.Load())
	})
}

func TestRoundRobin(t *testing.T) {
	t.Parallel()

	t.Run("fails over", func(t *testing.T) {
		t.Parallel()
		broken := &fakeProvider{err: errors.New("down")}
		healthy := &fakeProvider{snapshot: shared.ObservationSnapshot{Domain: shared.DarkMatter}}
		provider := observations.NewRoundRobin([]observations.Provider{broken, healthy})

		snap, err := provider.Snapshot(context.Background(), shared.DarkMatter, window(0))
		require.NoError(t, err)
		require.Equal(t, shared.DarkMatter, snap.Domain)
	})

	t.Run("all down", func(t *testing.T) {
		t.Parallel()
		provider := observations.NewRoundRobin([]observations.Provider{
			&fakeProvider{err: errors.New("down")},
			&fakeProvider{err: errors.New("down")},
		})
		_, err := provider.Snapshot(context.Background(), shared.DarkMatter, window(0))
		require.ErrorIs(t, err, observations.ErrUnavailable)
	})

	t.Run("no data is permanent", func(t *testing.T) {
		t.Parallel()
		first := &fakeProvider{err: observations.ErrNoData}
		second := &fakeProvider{}
		provider := observations.NewRoundRobin([]observations.Provider{first, second})

		_, err := provider.Snapshot(context.Background(), shared.DarkMatter, window(0))
		require.ErrorIs(t, err, observations.ErrNoData)
		require.EqualValues(t, 0, second.calls.Load())
	})
}

func TestRetrying(t *testing.T) {
	t.Parallel()

	t.Run("backs off then succeeds", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{err: errors.New("flaky"), failures: 2}
		provider := observations.NewRetrying(fake, 5, time.Millisecond, 2)

		_, err := provider.Snapshot(context.Background(), shared.Exoplanet, window(0))
		require.NoError(t, err)
		require.EqualValues(t, 3, fake.calls.Load())
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{err: errors.New("down")}
		provider := observations.NewRetrying(fake, 3, time.Millisecond, 2)

		_, err := provider.Snapshot(context.Background(), shared.Exoplanet, window(0))
		require.ErrorIs(t, err, observations.ErrUnavailable)
		require.EqualValues(t, 3, fake.calls.Load())
	})

	t.Run("deadline classifies as timeout", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{err: errors.New("down")}
		provider := observations.NewRetrying(fake, 3, time.Minute, 2)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := provider.Snapshot(ctx, shared.Exoplanet, window(0))
		require.ErrorIs(t, err, shared.ErrTimeout)
		require.Equal(t, shared.KindTimeout, shared.KindOf(err))
	})

	t.Run("no data is permanent", func(t *testing.T) {
		t.Parallel()
		fake := &fakeProvider{err: observations.ErrNoData}
		provider := observations.NewRetrying(fake, 3, time.Millisecond, 2)

		_, err := provider.Snapshot(context.Background(), shared.Exoplanet, window(0))
		require.ErrorIs(t, err, observations.ErrNoData)
		require.EqualValues(t, 1, fake.calls.Load())
	})
}

func TestClient(t *testing.T) {
	t.Parallel()

	t.Run("fetches and decodes", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/observations/trajectory", r.URL.Path)
			require.NotEmpty(t, r.URL.Query().Get("start"))
			require.NotEmpty(t, r.URL.Query().Get("end"))
			w.Header().Set("Content-Type", "application/json")
			_, err := w.Write([]byte(`{
				"taken_at": "2024-03-01T00:00:00Z",
				"params": {"central_mass_kg": 5.9722e24},
				"series": {"strain": [0, 1, 0]}
			}`))
			require.NoError(t, err)
		}))
		t.Cleanup(server.Close)

		client := observations.NewClient(server.URL)
		snap, err := client.Snapshot(context.Background(), shared.Trajectory, window(0))
		require.NoError(t, err)
		require.Equal(t, shared.Trajectory, snap.Domain)
		require.Equal(t, 5.9722e24, snap.Params["central_mass_kg"])
		require.Equal(t, []float64{0, 1, 0}, snap.Series["strain"])
		require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), snap.TakenAt.UTC())
	})

	t.Run("not found is no data", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		t.Cleanup(server.Close)

		_, err := observations.NewClient(server.URL).Snapshot(context.Background(), shared.CMB, window(0))
		require.ErrorIs(t, err, observations.ErrNoData)
	})

	t.Run("server error is transient", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)

		_, err := observations.NewClient(server.URL).Snapshot(context.Background(), shared.CMB, window(0))
		require.Error(t, err)
		require.NotErrorIs(t, err, observations.ErrNoData)
	})
}
