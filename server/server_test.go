package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/server"
	"tidbyt.dev/caltrain/storage"
	"tidbyt.dev/caltrain/testutil"
)

type clock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *clock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

type upstream struct {
	mutex  sync.Mutex
	feed   []byte
	status int
}

func (u *upstream) Set(feed []byte, status int) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.feed = feed
	u.status = status
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if u.status != http.StatusOK {
		w.WriteHeader(u.status)
		return
	}
	w.Write(u.feed)
}

const timetableJSON = `{
  "70012": [
    {"trainId": "101", "line": "Local", "departureTime": "08:10:00", "destination": "San Francisco"},
    {"trainId": "103", "line": "Local", "departureTime": "08:20:00", "destination": "San Francisco"},
    {"trainId": "105", "line": "Local", "departureTime": "08:30:00", "destination": "San Francisco"}
  ],
  "70011": [
    {"trainId": "502", "line": "Local", "departureTime": "08:15:00", "destination": "San Jose Diridon"},
    {"trainId": "504", "line": "Bullet", "departureTime": "08:25:00", "destination": "San Jose Diridon"},
    {"trainId": "506", "line": "Local", "departureTime": "08:35:00", "destination": "San Jose Diridon"}
  ]
}`

type fixture struct {
	engine   *caltrain.Engine
	server   *server.Server
	api      *httptest.Server
	upstream *upstream
	clock    *clock
}

func serverFixture(t *testing.T) *fixture {
	pacific, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	s := storage.NewMemoryStorage()
	testutil.LoadStations(t, s)

	up := &upstream{}
	up.Set(testutil.TripUpdatesJSON(t), http.StatusOK)
	upstreamServer := httptest.NewServer(up)
	t.Cleanup(upstreamServer.Close)

	c := &clock{now: time.Date(2024, 1, 10, 8, 0, 0, 0, pacific)}

	e := caltrain.NewEngine(s)
	e.FeedURL = upstreamServer.URL
	e.Timezone = pacific
	e.TimeNow = c.Now
	e.Gate.TimeNow = c.Now
	e.Registry.TimeNow = c.Now
	e.Locations.TimeNow = c.Now

	_, err = e.LoadTimetable(strings.NewReader(timetableJSON), caltrain.FormatJSON)
	require.NoError(t, err)

	srv := server.New(e, server.NewHub(nil), nil)
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)

	return &fixture{
		engine:   e,
		server:   srv,
		api:      httpServer,
		upstream: up,
		clock:    c,
	}
}

func (f *fixture) do(t *testing.T, method, path string, out interface{}) int {
	req, err := http.NewRequest(method, f.api.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListStations(t *testing.T) {
	f := serverFixture(t)

	resp := server.StationsResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/stations", &resp))
	require.Equal(t, 6, resp.Count)
	ids := []string{}
	for _, st := range resp.Stations {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"22nd", "mb", "mv", "pa", "sf", "sj"}, ids)

	resp = server.StationsResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/stations?q=san", &resp))
	require.Equal(t, 2, resp.Count)
	ids = []string{resp.Stations[0].ID, resp.Stations[1].ID}
	assert.ElementsMatch(t, []string{"sf", "sj"}, ids)

	st := map[string]interface{}{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/stations/mv", &st))
	assert.Equal(t, "Mountain View", st["name"])

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/v1/stations/gilroy", nil))
}

func TestNearestStation(t *testing.T) {
	f := serverFixture(t)

	resp := server.NearestResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/stations/nearest?lat=37.3930&lon=-122.0790", &resp))
	assert.Equal(t, "mv", resp.Station.ID)
	assert.Equal(t, "0.2 mi", resp.Distance)

	// Shared with the background surface
	cached, err := f.engine.Locations.Load()
	require.NoError(t, err)
	assert.Equal(t, "mv", cached.NearestStationID)
	assert.True(t, f.engine.Locations.Fresh(cached))

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/v1/stations/nearest?lat=abc&lon=-122", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/v1/stations/nearest?lat=91&lon=-122", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/v1/stations/nearest?lat=37", nil))
}

func TestGetDepartures(t *testing.T) {
	f := serverFixture(t)

	resp := server.DeparturesResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/stations/sf/departures?limit=2", &resp))
	assert.Equal(t, "sf", resp.StationID)
	require.Equal(t, 2, len(resp.Northbound))
	require.Equal(t, 2, len(resp.Southbound))
	assert.Equal(t, "101", resp.Northbound[0].TrainNumber)
	assert.Equal(t, "504", resp.Southbound[1].TrainNumber)
	assert.Equal(t, "SJ", resp.Southbound[1].ShortDestination)
	assert.Nil(t, resp.LastRefresh)

	resp = server.DeparturesResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/stations/sf/departures?direction=south", &resp))
	assert.Equal(t, 0, len(resp.Northbound))
	assert.Equal(t, 3, len(resp.Southbound))

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/v1/stations/gilroy/departures", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/v1/stations/sf/departures?direction=east", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/v1/stations/sf/departures?limit=x", nil))
}

func TestStationPreferences(t *testing.T) {
	f := serverFixture(t)

	assert.Equal(t, http.StatusNoContent, f.do(t, "POST", "/v1/stations/pa/select", nil))
	assert.Equal(t, http.StatusNoContent, f.do(t, "PUT", "/v1/stations/mb/favorite", nil))

	dir, err := f.engine.Directory()
	require.NoError(t, err)
	selected, found := dir.Selected()
	require.True(t, found)
	assert.Equal(t, "pa", selected.ID)
	require.Equal(t, 1, len(dir.Favorites()))
	assert.Equal(t, "mb", dir.Favorites()[0].ID)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/v1/stations/mb/favorite", nil))
	dir, err = f.engine.Directory()
	require.NoError(t, err)
	assert.Equal(t, 0, len(dir.Favorites()))

	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/v1/stations/gilroy/select", nil))
}

func TestGetTimeline(t *testing.T) {
	f := serverFixture(t)

	resp := server.TimelineResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/timeline?station=sf&layout=medium", &resp))
	assert.Equal(t, caltrain.AffordanceNone, resp.Affordance)
	assert.Equal(t, "", resp.Error)
	require.NotNil(t, resp.Station)
	assert.Equal(t, "sf", resp.Station.Station.ID)
	require.True(t, len(resp.Windows) > 0)
	assert.Equal(t, 3, len(resp.Windows[0].Northbound))
	assert.Equal(t, 3, len(resp.Windows[0].Southbound))

	// Exactly three each way, so the first departure ends it
	assert.True(t, f.clock.Now().Add(10*time.Minute).Equal(resp.NextRefresh))

	// Nothing to go on
	resp = server.TimelineResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/v1/timeline", &resp))
	assert.Equal(t, caltrain.AffordanceOpenApp, resp.Affordance)
	assert.Equal(t, caltrain.ErrNoLocation.Error(), resp.Error)
	assert.Nil(t, resp.Station)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/v1/timeline?layout=huge", nil))
}

func TestPostRefresh(t *testing.T) {
	f := serverFixture(t)

	resp := server.RefreshResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "POST", "/v1/refresh", &resp))
	assert.Equal(t, "completed", resp.Outcome)

	resp = server.RefreshResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "POST", "/v1/refresh", &resp))
	assert.Equal(t, "skipped", resp.Outcome)

	resp = server.RefreshResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "POST", "/v1/refresh?force=true", &resp))
	assert.Equal(t, "completed", resp.Outcome)

	f.upstream.Set(nil, http.StatusServiceUnavailable)
	assert.Equal(t, http.StatusBadGateway, f.do(t, "POST", "/v1/refresh?force=1", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/v1/refresh?force=maybe", nil))
}

func TestHealth(t *testing.T) {
	f := serverFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/healthz", nil))

	ready := server.ReadyResponse{}
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, "GET", "/readyz", &ready))
	assert.False(t, ready.Ready)
	assert.Equal(t, 6, ready.Stations)

	_, err := f.engine.Refresh(context.Background(), false)
	require.NoError(t, err)

	ready = server.ReadyResponse{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/readyz", &ready))
	assert.True(t, ready.Ready)
	require.NotNil(t, ready.LastRefresh)

	f.clock.Advance(server.DefaultStaleAfter + time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, "GET", "/readyz", nil))
}

func readBoard(t *testing.T, ctx context.Context, conn *websocket.Conn) server.BoardMessage {
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msgType, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, msgType)

	msg := server.BoardMessage{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestLiveBoard(t *testing.T) {
	f := serverFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.Hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(f.api.URL, "http") + "/v1/stations/sf/live"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Current board on connect
	msg := readBoard(t, ctx, conn)
	assert.Equal(t, "board", msg.Type)
	assert.Equal(t, "sf", msg.Payload.Station.ID)
	require.True(t, len(msg.Payload.Northbound) > 0)
	assert.False(t, msg.Payload.Northbound[0].Live)

	require.Eventually(t, func() bool {
		return f.server.Hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"sf"}, f.server.Hub.Stations())

	// 101 shows up in the feed
	f.upstream.Set(testutil.TripUpdatesJSON(t, testutil.TripFixture{
		TripID: "101",
		Stops: []testutil.StopFixture{
			{StopID: "70012", Sequence: 1, Departure: f.clock.Now().Add(12 * time.Minute)},
		},
	}), http.StatusOK)

	poller := server.NewPoller(f.engine, f.server.Hub, nil)
	poller.Poll(ctx)

	msg = readBoard(t, ctx, conn)
	require.True(t, len(msg.Payload.Northbound) > 0)
	assert.Equal(t, "101", msg.Payload.Northbound[0].TrainNumber)
	assert.True(t, msg.Payload.Northbound[0].Live)
	assert.NotNil(t, msg.Payload.LastRefresh)

	// Upstream failing still pushes the cached board
	f.clock.Advance(time.Minute)
	f.upstream.Set(nil, http.StatusInternalServerError)
	poller.Poll(ctx)

	msg = readBoard(t, ctx, conn)
	assert.Equal(t, "101", msg.Payload.Northbound[0].TrainNumber)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		return f.server.Hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLiveBoardUnknownStation(t *testing.T) {
	f := serverFixture(t)

	resp, err := http.Get(f.api.URL + "/v1/stations/gilroy/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
