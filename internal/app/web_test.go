package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/test"

	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
)

func samplePose(x float64) geometry.Pose {
	return geometry.Pose{
		Header:      geometry.Header{Stamp: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), FrameID: "ee_frame"},
		Position:    geometry.Point{X: x},
		Orientation: geometry.Quaternion{X: 0.5, Y: -0.5, Z: -0.5, W: 0.5},
	}
}

func TestMonitorPoseEndpoint(t *testing.T) {
	m := NewMonitor(logging.NewTestLogger(t))
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/pose")
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)

	want := samplePose(1)
	m.Update(want)

	resp, err = http.Get(srv.URL + "/api/pose")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldEqual, "application/json")

	var got geometry.Pose
	test.That(t, json.NewDecoder(resp.Body).Decode(&got), test.ShouldBeNil)
	test.That(t, got.Header.Stamp.Equal(want.Header.Stamp), test.ShouldBeTrue)
	test.That(t, got.Position, test.ShouldResemble, want.Position)
	test.That(t, got.Orientation, test.ShouldResemble, want.Orientation)
}

func TestMonitorStatsEndpoint(t *testing.T) {
	m := NewMonitor(logging.NewTestLogger(t))
	m.SetStats(func() Stats { return Stats{Received: 5, Dropped: 2, Solved: 3} })
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stats")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()

	var got Stats
	test.That(t, json.NewDecoder(resp.Body).Decode(&got), test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, Stats{Received: 5, Dropped: 2, Solved: 3})
}

func TestMonitorWebsocketStreamsPoses(t *testing.T) {
	m := NewMonitor(logging.NewTestLogger(t))
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	m.Update(samplePose(1))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	test.That(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)), test.ShouldBeNil)

	// The last known pose is sent as soon as the client connects.
	var got geometry.Pose
	test.That(t, conn.ReadJSON(&got), test.ShouldBeNil)
	test.That(t, got.Position.X, test.ShouldEqual, 1.0)

	m.Update(samplePose(2))
	test.That(t, conn.ReadJSON(&got), test.ShouldBeNil)
	test.That(t, got.Position.X, test.ShouldEqual, 2.0)
}

func TestMonitorFollowsListener(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.monitor.Handler())
	defer srv.Close()

	h.publish(t, point(1, 0, 0))
	h.nextCommand(t)
	waitFor(t, "monitor update", func() bool {
		resp, err := http.Get(srv.URL + "/api/pose")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	resp, err := http.Get(srv.URL + "/api/stats")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	var stats Stats
	test.That(t, json.NewDecoder(resp.Body).Decode(&stats), test.ShouldBeNil)
	test.That(t, stats.Received, test.ShouldEqual, uint64(1))
}
