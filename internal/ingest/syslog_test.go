package ingest

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/ngsoc/act/internal/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── parseSyslog ─────────────────────────────────────────────────────────────

func TestParseSyslog_RFC5424(t *testing.T) {
	raw := `<34>1 2026-03-01T12:00:00Z siem01 ng-siem 4123 ALERT target=10.0.0.5 mitigation=response`
	msg := parseSyslog(raw)
	require.NotNil(t, msg)

	assert.Equal(t, 4, msg.Facility)
	assert.Equal(t, 2, msg.Severity)
	assert.Equal(t, "siem01", msg.Hostname)
	assert.Equal(t, "ng-siem", msg.AppName)
	assert.Equal(t, "4123", msg.ProcID)
	assert.Equal(t, "ALERT", msg.MsgID)
	assert.Equal(t, "target=10.0.0.5 mitigation=response", msg.Message)
	require.NotNil(t, msg.Timestamp)
	assert.Equal(t, 2026, msg.Timestamp.Year())
}

func TestParseSyslog_RFC5424NilValues(t *testing.T) {
	msg := parseSyslog(`<14>1 - - - - - target=h`)
	require.NotNil(t, msg)
	assert.Empty(t, msg.Hostname)
	assert.Empty(t, msg.AppName)
	assert.Nil(t, msg.Timestamp)
	assert.Equal(t, "target=h", msg.Message)
}

func TestParseSyslog_RFC3164(t *testing.T) {
	msg := parseSyslog(`<13>Mar  1 12:00:00 siem01 ng-siem[77]: target=10.0.0.9`)
	require.NotNil(t, msg)

	assert.Equal(t, 1, msg.Facility)
	assert.Equal(t, 5, msg.Severity)
	assert.Equal(t, "siem01", msg.Hostname)
	assert.Equal(t, "ng-siem", msg.AppName)
	assert.Equal(t, "77", msg.ProcID)
	assert.Equal(t, "target=10.0.0.9", msg.Message)
	assert.NotNil(t, msg.Timestamp)
}

func TestParseSyslog_RFC3164NoTag(t *testing.T) {
	msg := parseSyslog(`<13>Mar  1 12:00:00 siem01 target=10.0.0.9 note=a:b`)
	require.NotNil(t, msg)
	assert.Empty(t, msg.AppName)
	assert.Equal(t, "target=10.0.0.9 note=a:b", msg.Message)
}

func TestParseSyslog_BarePriority(t *testing.T) {
	msg := parseSyslog(`<11>target=h`)
	require.NotNil(t, msg)
	assert.Equal(t, 3, msg.Severity)
	assert.Equal(t, "target=h", msg.Message)
}

func TestParseSyslog_NoHeader(t *testing.T) {
	assert.Nil(t, parseSyslog("target=h"))
	assert.Nil(t, parseSyslog("   "))
}

// ─── Severity mapping ────────────────────────────────────────────────────────

func TestSyslogSeverityToCore(t *testing.T) {
	want := []core.Severity{10, 9, 8, 7, 5, 3, 1, 0}
	for sev, expected := range want {
		assert.Equal(t, expected, syslogSeverityToCore(sev), "syslog severity %d", sev)
	}
}

// ─── decodeSyslogAlert ───────────────────────────────────────────────────────

func TestDecodeSyslogAlert_KeyValues(t *testing.T) {
	event, err := decodeSyslogAlert(`<34>1 2026-03-01T12:00:00Z siem01 ng-siem - - - target=10.0.0.5 mitigation=elimination`)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", event.Target)
	assert.Equal(t, "elimination", event.Mitigation)
	assert.Equal(t, "ng-siem", event.Source)
	assert.Equal(t, core.Severity(8), event.Severity, "taken from syslog priority")
}

func TestDecodeSyslogAlert_ExplicitFieldsWin(t *testing.T) {
	event, err := decodeSyslogAlert(`<34>1 - siem01 ng-siem - - - target=h source="edr sensor" severity=2`)
	require.NoError(t, err)

	assert.Equal(t, "edr sensor", event.Source)
	assert.Equal(t, core.Severity(2), event.Severity)
	assert.Empty(t, event.Mitigation, "recommender decides")
}

func TestDecodeSyslogAlert_JSONBody(t *testing.T) {
	event, err := decodeSyslogAlert(`<13>Mar  1 12:00:00 siem01 {"target":"10.0.0.7","mitigation":"recovery","severity":"6"}`)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.7", event.Target)
	assert.Equal(t, "recovery", event.Mitigation)
	assert.Equal(t, core.Severity(6), event.Severity)
	assert.Equal(t, "siem01", event.Source, "falls back to hostname")
}

func TestDecodeSyslogAlert_ExplicitZeroSeverityKept(t *testing.T) {
	event, err := decodeSyslogAlert(`<10>1 - siem01 ng-siem - - - target=h severity=0`)
	require.NoError(t, err)
	assert.Equal(t, core.Severity(0), event.Severity)

	event, err = decodeSyslogAlert(`<10>{"target":"h","severity":0}`)
	require.NoError(t, err)
	assert.Equal(t, core.Severity(0), event.Severity)

	event, err = decodeSyslogAlert(`<10>{"target":"h","severity":null}`)
	require.NoError(t, err)
	assert.Equal(t, core.Severity(8), event.Severity, "null counts as absent")
}

func TestDecodeSyslogAlert_SeverityClamped(t *testing.T) {
	event, err := decodeSyslogAlert(`target=h severity=42`)
	require.NoError(t, err)
	assert.Equal(t, core.MaxSeverity, event.Severity)

	_, err = decodeSyslogAlert(`target=h severity=NaN`)
	assert.Error(t, err)
}

func TestDecodeSyslogAlert_BareBody(t *testing.T) {
	event, err := decodeSyslogAlert(`host=db01 action=response`)
	require.NoError(t, err)

	assert.Equal(t, "db01", event.Target)
	assert.Equal(t, "response", event.Mitigation)
	assert.Equal(t, "syslog", event.Source)
	assert.Equal(t, core.Severity(0), event.Severity)
}

func TestDecodeSyslogAlert_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"no target":    `<14>1 - - ng-siem - - - mitigation=response`,
		"bad json":     `<14>{"target":`,
		"bad severity": `target=h severity=high`,
	}
	for name, raw := range cases {
		_, err := decodeSyslogAlert(raw)
		assert.Error(t, err, name)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}

// ─── SyslogServer ────────────────────────────────────────────────────────────

type alertRecorder struct {
	mu     sync.Mutex
	events []core.AlertEvent
}

func (r *alertRecorder) handle(_ context.Context, event core.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *alertRecorder) snapshot() []core.AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.AlertEvent(nil), r.events...)
}

func startServer(t *testing.T, protocol string) (*SyslogServer, *alertRecorder) {
	t.Helper()
	rec := &alertRecorder{}
	cfg := &core.SyslogConfig{Enabled: true, Host: "127.0.0.1", Port: 0, Protocol: protocol}
	srv := NewSyslogServer(cfg, rec.handle, zerolog.Nop())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, rec
}

func TestSyslogServer_UDP(t *testing.T) {
	srv, rec := startServer(t, "udp")
	require.NotNil(t, srv.UDPAddr())
	assert.Nil(t, srv.TCPAddr())

	conn, err := net.Dial("udp", srv.UDPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprint(conn, `<10>1 - siem01 ng-siem - - - target=10.0.0.5 mitigation=response`)
	require.NoError(t, err)
	_, err = fmt.Fprint(conn, `<10>1 - siem01 ng-siem - - - no target here`)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	got := rec.snapshot()[0]
	assert.Equal(t, "10.0.0.5", got.Target)
	assert.Equal(t, "response", got.Mitigation)
	assert.Equal(t, core.Severity(8), got.Severity)
}

func TestSyslogServer_TCP(t *testing.T) {
	srv, rec := startServer(t, "tcp")
	require.NotNil(t, srv.TCPAddr())

	conn, err := net.Dial("tcp", srv.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprint(conn, "<14>1 - - - - - - target=a\n<14>1 - - - - - - target=b\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)
	var targets []string
	for _, e := range rec.snapshot() {
		targets = append(targets, e.Target)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, targets)
}

func TestSyslogServer_SlowAlertDoesNotDelayOthers(t *testing.T) {
	release := make(chan struct{})
	fast := make(chan time.Time, 1)
	handler := func(_ context.Context, event core.AlertEvent) {
		switch event.Target {
		case "slow":
			<-release
		case "fast":
			fast <- time.Now()
		}
	}

	cfg := &core.SyslogConfig{Enabled: true, Host: "127.0.0.1", Port: 0, Protocol: "udp"}
	srv := NewSyslogServer(cfg, handler, zerolog.Nop())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		close(release)
		_ = srv.Stop()
	})

	conn, err := net.Dial("udp", srv.UDPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	sent := time.Now()
	_, err = fmt.Fprint(conn, `<14>1 - - - - - - target=slow`)
	require.NoError(t, err)
	_, err = fmt.Fprint(conn, `<14>1 - - - - - - target=fast`)
	require.NoError(t, err)

	select {
	case at := <-fast:
		assert.Less(t, at.Sub(sent), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("fast alert waited behind the slow one")
	}
}

func TestSyslogServer_ClosedConnectionsReleaseGoroutines(t *testing.T) {
	srv, _ := startServer(t, "tcp")
	addr := srv.TCPAddr().String()

	// Let the accept loop settle before taking the baseline.
	time.Sleep(50 * time.Millisecond)
	before := runtime.NumGoroutine()

	for i := 0; i < 100; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		_, _ = fmt.Fprint(conn, "<14>1 - - - - - - no target\n")
		require.NoError(t, conn.Close())
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSyslogServer_InFlightLimit(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	running := 0
	handler := func(context.Context, core.AlertEvent) {
		mu.Lock()
		running++
		mu.Unlock()
		<-release
	}

	srv := NewSyslogServer(&core.SyslogConfig{MaxInFlight: 2}, handler, zerolog.Nop())
	srv.ctx = context.Background()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			srv.processMessage("target=h")
		}
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == 2
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-done:
		t.Fatal("third alert dispatched past the in-flight limit")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-done
	require.NoError(t, srv.alerts.Wait())
	assert.Equal(t, 3, running)
}

func TestSyslogServer_StopWithoutStart(t *testing.T) {
	srv := NewSyslogServer(&core.SyslogConfig{}, func(context.Context, core.AlertEvent) {}, zerolog.Nop())
	assert.NoError(t, srv.Stop())
}
