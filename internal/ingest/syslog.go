package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ngsoc/act/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AlertHandler receives every alert decoded from a syslog message.
type AlertHandler func(ctx context.Context, event core.AlertEvent)

var syslogAlerts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "act",
		Name:      "syslog_alerts_total",
		Help:      "Syslog messages received, by outcome",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(syslogAlerts)
}

// SyslogServer listens for SIEM alerts forwarded as syslog (RFC 5424 / RFC 3164)
// over UDP and/or TCP. The message body is either a JSON alert object or
// key=value pairs; each decoded alert is handed to the handler on its own
// goroutine, at most cfg.MaxInFlight at a time.
type SyslogServer struct {
	cfg     *core.SyslogConfig
	handler AlertHandler
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	udpConn *net.UDPConn
	tcpLn   net.Listener
	wg      sync.WaitGroup
	alerts  errgroup.Group
}

// NewSyslogServer creates a new syslog alert intake.
func NewSyslogServer(cfg *core.SyslogConfig, handler AlertHandler, logger zerolog.Logger) *SyslogServer {
	s := &SyslogServer{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "syslog_ingest").Logger(),
	}
	limit := cfg.MaxInFlight
	if limit <= 0 {
		limit = core.DefaultSyslogMaxInFlight
	}
	s.alerts.SetLimit(limit)
	return s
}

// Start begins listening for syslog messages.
func (s *SyslogServer) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	proto := strings.ToLower(s.cfg.Protocol)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if proto == "udp" || proto == "both" {
		if err := s.startUDP(addr); err != nil {
			return fmt.Errorf("starting syslog UDP listener: %w", err)
		}
	}

	if proto == "tcp" || proto == "both" {
		if err := s.startTCP(addr); err != nil {
			s.Stop()
			return fmt.Errorf("starting syslog TCP listener: %w", err)
		}
	}

	s.logger.Info().Str("addr", addr).Str("protocol", proto).Msg("syslog intake started")
	return nil
}

// Stop shuts down the listeners and waits for in-flight messages.
func (s *SyslogServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
	s.wg.Wait()
	_ = s.alerts.Wait()
	s.logger.Info().Msg("syslog intake stopped")
	return nil
}

// UDPAddr returns the bound UDP address, or nil.
func (s *SyslogServer) UDPAddr() net.Addr {
	if s.udpConn == nil {
		return nil
	}
	return s.udpConn.LocalAddr()
}

// TCPAddr returns the bound TCP address, or nil.
func (s *SyslogServer) TCPAddr() net.Addr {
	if s.tcpLn == nil {
		return nil
	}
	return s.tcpLn.Addr()
}

func (s *SyslogServer) startUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on UDP %s: %w", addr, err)
	}
	s.udpConn = conn

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 65536)
		for {
			if s.ctx.Err() != nil {
				return
			}

			_ = conn.SetReadDeadline(time.Now().Add(time.Second))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
			s.processMessage(string(buf[:n]))
		}
	}()

	return nil
}

func (s *SyslogServer) startTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on TCP %s: %w", addr, err)
	}
	s.tcpLn = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error().Err(err).Msg("TCP accept error")
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleTCPConn(conn)
			}()
		}
	}()

	return nil
}

func (s *SyslogServer) handleTCPConn(conn net.Conn) {
	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
	}()

	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 65536), 65536)
	for scanner.Scan() {
		s.processMessage(scanner.Text())
	}

	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		s.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("TCP connection read error")
	}
}

// processMessage decodes one syslog line and dispatches the alert it carries
// without blocking the reader on the dispatch. It waits only when
// MaxInFlight alerts are already being dispatched.
func (s *SyslogServer) processMessage(raw string) {
	event, err := decodeSyslogAlert(raw)
	if err != nil {
		syslogAlerts.WithLabelValues("rejected").Inc()
		s.logger.Debug().Err(err).Str("raw", truncate(raw, 200)).Msg("dropping syslog message")
		return
	}
	syslogAlerts.WithLabelValues("accepted").Inc()
	s.alerts.Go(func() error {
		s.handler(s.ctx, *event)
		return nil
	})
}

// syslogMessage represents a parsed syslog message.
type syslogMessage struct {
	Facility  int
	Severity  int
	Timestamp *time.Time
	Hostname  string
	AppName   string
	ProcID    string
	MsgID     string
	Message   string
}

// RFC 5424 pattern: <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID MSG
var rfc5424Re = regexp.MustCompile(`^<(\d{1,3})>(\d)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s*(.*)$`)

// RFC 3164 pattern: <PRI>TIMESTAMP HOSTNAME MSG
var rfc3164Re = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)

// Bare priority pattern: <PRI>MSG
var barePriRe = regexp.MustCompile(`^<(\d{1,3})>(.+)$`)

func parseSyslog(raw string) *syslogMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if m := rfc5424Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: nilValue(m[4]),
			AppName:  nilValue(m[5]),
			ProcID:   nilValue(m[6]),
			MsgID:    nilValue(m[7]),
			Message:  m[8],
		}
		if t, err := time.Parse(time.RFC3339, m[3]); err == nil {
			msg.Timestamp = &t
		}
		return msg
	}

	if m := rfc3164Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[3],
			Message:  m[4],
		}
		// BSD timestamps carry no year.
		tsStr := fmt.Sprintf("%d %s", time.Now().Year(), m[2])
		if t, err := time.Parse("2006 Jan _2 15:04:05", tsStr); err == nil {
			msg.Timestamp = &t
		}
		// "ng-siem[1234]: body" or "ng-siem: body"; a JSON body has no tag.
		if idx := strings.Index(msg.Message, ":"); idx > 0 && !strings.HasPrefix(msg.Message, "{") {
			tag := msg.Message[:idx]
			if !strings.ContainsAny(tag, " =") {
				if pidIdx := strings.Index(tag, "["); pidIdx > 0 {
					msg.AppName = tag[:pidIdx]
					msg.ProcID = strings.Trim(tag[pidIdx:], "[]")
				} else {
					msg.AppName = tag
				}
				msg.Message = strings.TrimSpace(msg.Message[idx+1:])
			}
		}
		return msg
	}

	if m := barePriRe.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		return &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Message:  m[2],
		}
	}

	return nil
}

// nilValue maps the RFC 5424 NILVALUE "-" to "".
func nilValue(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// syslogSeverityToCore maps syslog severity (0=emergency..7=debug) onto the
// 0-10 alert scale.
func syslogSeverityToCore(syslogSev int) core.Severity {
	switch syslogSev {
	case 0: // emergency
		return 10
	case 1: // alert
		return 9
	case 2: // critical
		return 8
	case 3: // error
		return 7
	case 4: // warning
		return 5
	case 5: // notice
		return 3
	case 6: // informational
		return 1
	default: // debug
		return 0
	}
}

// kvRe matches key=value and key="quoted value" pairs.
var kvRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)=("[^"]*"|\S+)`)

// decodeSyslogAlert turns one syslog line into an AlertEvent. A line that
// is not wrapped in a syslog header is decoded as a bare body.
func decodeSyslogAlert(raw string) (*core.AlertEvent, error) {
	msg := parseSyslog(raw)
	if msg == nil {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("empty message")
		}
		msg = &syslogMessage{Severity: -1, Message: raw}
	}

	body := strings.TrimSpace(msg.Message)
	var (
		event       *core.AlertEvent
		hasSeverity bool
		err         error
	)
	if strings.HasPrefix(body, "{") {
		event, hasSeverity, err = decodeJSONAlert(body)
	} else {
		event, hasSeverity, err = decodeKeyValues(body)
	}
	if err != nil {
		return nil, err
	}

	if event.Target == "" {
		return nil, fmt.Errorf("alert has no target")
	}
	if event.Source == "" {
		switch {
		case msg.AppName != "":
			event.Source = msg.AppName
		case msg.Hostname != "":
			event.Source = msg.Hostname
		default:
			event.Source = "syslog"
		}
	}
	if !hasSeverity && msg.Severity >= 0 {
		event.Severity = syslogSeverityToCore(msg.Severity)
	}
	return event, nil
}

// decodeJSONAlert decodes a JSON body and reports whether it carried a
// non-null severity.
func decodeJSONAlert(body string) (*core.AlertEvent, bool, error) {
	event, err := core.UnmarshalAlertEvent([]byte(body))
	if err != nil {
		return nil, false, fmt.Errorf("decoding JSON alert: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, false, fmt.Errorf("decoding JSON alert: %w", err)
	}
	raw, ok := fields["severity"]
	return event, ok && string(raw) != "null", nil
}

// decodeKeyValues decodes key=value pairs and reports whether severity was set.
func decodeKeyValues(body string) (*core.AlertEvent, bool, error) {
	event := &core.AlertEvent{}
	hasSeverity := false
	for _, m := range kvRe.FindAllStringSubmatch(body, -1) {
		value := strings.Trim(m[2], `"`)
		switch strings.ToLower(m[1]) {
		case "target", "host", "src_ip":
			if event.Target == "" {
				event.Target = value
			}
		case "mitigation", "action":
			event.Mitigation = value
		case "source":
			event.Source = value
		case "severity":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, false, fmt.Errorf("severity %q is not numeric", value)
			}
			sev, err := core.SeverityFromFloat(f)
			if err != nil {
				return nil, false, err
			}
			event.Severity = sev
			hasSeverity = true
		}
	}
	return event, hasSeverity, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
