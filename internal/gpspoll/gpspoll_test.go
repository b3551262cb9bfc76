// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpspoll

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"testing"
	"time"
)

const (
	tpvFull = `{"class":"TPV","device":"/dev/ttyACM0","mode":3,"time":"2025-11-24T10:44:41.000Z","lat":51.0,"lon":7.0,"alt":75.0,"epx":8.1,"epy":11.4,"epv":27.6,"eph":17.67,"speed":0.229}`
	version = `{"class":"VERSION","release":"3.25","rev":"3.25","proto_major":3,"proto_minor":15}`
	devices = `{"class":"DEVICES","devices":[{"class":"DEVICE","path":"/dev/ttyACM0","driver":"u-blox"}]}`
)

var testTime = time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC)

func TestNew(t *testing.T) {
	client := New("localhost", "2947")
	if client.Addr != "localhost:2947" {
		t.Errorf("expected client address to be localhost:2947, got %s", client.Addr)
	}
	if client = New("::1", "2947"); client.Addr != "[::1]:2947" {
		t.Errorf("expected IPv6 address to be bracketed, got %s", client.Addr)
	}
}

func TestClient_Poll(t *testing.T) {
	t.Run("poll reads the position from different responses", func(t *testing.T) {
		tests := []struct {
			name  string
			lines []string
			acc   float64
			mode  int
		}{
			{"TPV report", []string{version, devices, tpvFull}, 17.67, 3},
			{
				"POLL response with the best device",
				[]string{
					version,
					`{"class":"POLL","time":"2025-11-24T10:44:41.000Z","active":2,"tpv":[` +
						`{"class":"TPV","mode":1,"lat":1.0,"lon":1.0},` +
						`{"class":"TPV","mode":3,"time":"2025-11-24T10:44:41.000Z","lat":51.0,"lon":7.0,"epx":3,"epy":4}]}`,
				},
				5, 3,
			},
			{
				"2D fix without error estimate",
				[]string{`{"class":"TPV","mode":2,"time":"2025-11-24T10:44:41.000Z","lat":51.0,"lon":7.0}`},
				fallbackAccuracy2DFix, 2,
			},
			{
				"empty POLL response is skipped",
				[]string{`{"class":"POLL","active":0,"tpv":[]}`, tpvFull},
				17.67, 3,
			},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				client := New(splitAddr(t, startMockGPSD(t, tc.lines...)))
				fix, err := client.Poll(t.Context())
				if err != nil {
					t.Fatalf("failed to poll for fix: %s", err)
				}
				if fix.Lat != 51 || fix.Lon != 7 {
					t.Errorf("expected position 51/7, got %f/%f", fix.Lat, fix.Lon)
				}
				if math.Abs(fix.Acc-tc.acc) > 1e-9 {
					t.Errorf("expected accuracy to be %f, got %f", tc.acc, fix.Acc)
				}
				if fix.Mode != tc.mode {
					t.Errorf("expected mode to be %d, got %d", tc.mode, fix.Mode)
				}
				if !fix.Time.Equal(testTime) {
					t.Errorf("expected time to be %s, got %s", testTime, fix.Time)
				}
			})
		}
	})
	t.Run("poll without a position report fails", func(t *testing.T) {
		client := New(splitAddr(t, startMockGPSD(t, version, "invalid", devices)))
		if _, err := client.Poll(t.Context()); !errors.Is(err, ErrNoReport) {
			t.Errorf("expected error to be %s, got %v", ErrNoReport, err)
		}
	})
	t.Run("poll with a canceled context fails", func(t *testing.T) {
		client := New(splitAddr(t, startMockGPSD(t, tpvFull)))
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if _, err := client.Poll(ctx); err == nil {
			t.Fatal("expected poll to fail with a canceled context")
		}
	})
	t.Run("poll without gpsd fails", func(t *testing.T) {
		ln, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			t.Fatalf("failed to listen: %s", err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()
		if _, err = New(splitAddr(t, addr)).Poll(t.Context()); err == nil {
			t.Fatal("expected poll to fail without gpsd")
		}
	})
}

func TestFix_Has2DFix(t *testing.T) {
	for mode, want := range map[int]bool{0: false, 1: false, 2: true, 3: true} {
		if got := (Fix{Mode: mode}).Has2DFix(); got != want {
			t.Errorf("expected Has2DFix for mode %d to be %t", mode, want)
		}
	}
}

func TestHorizontalAccuracy(t *testing.T) {
	tests := []struct {
		name          string
		mode          int
		eph, epx, epy float64
		want          float64
	}{
		{"eph wins", 3, 4.5, 8, 11, 4.5},
		{"epx and epy combined", 3, 0, 3, 4, 5},
		{"only epx falls back", 2, 0, 3, 0, fallbackAccuracy2DFix},
		{"3d fallback", 3, 0, 0, 0, fallbackAccuracy3DFix},
		{"no fix fallback", 1, 0, 0, 0, fallbackAccuracyNoFix},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HorizontalAccuracy(tc.mode, tc.eph, tc.epx, tc.epy); got != tc.want {
				t.Errorf("expected accuracy to be %f, got %f", tc.want, got)
			}
		})
	}
}

// startMockGPSD accepts a single connection, waits for the poll request and answers with lines.
func startMockGPSD(t *testing.T, lines ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen for mock gpsd: %s", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		request, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		if !strings.Contains(request, "?POLL;") {
			t.Errorf("expected a poll request, got %q", request)
		}
		for _, line := range lines {
			if _, err = conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	return ln.Addr().String()
}

func splitAddr(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("failed to split address: %s", err)
	}
	return host, port
}
