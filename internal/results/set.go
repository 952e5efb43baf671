package results

import (
	"errors"
	"log/slog"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/protocol"
)

// Hooks connect the logs to the session.
type Hooks struct {
	// OnSuite receives the suite name announced on the XML channel.
	OnSuite func(name string)

	// OnStatus receives every status channel line.
	OnStatus func(line string)

	// OnStatusConnect is called when the status channel connects.
	OnStatusConnect func()
}

// Set is the family of result logs of one session, keyed by Kind. It
// implements protocol.ChannelSet.
type Set struct {
	summary    *SummaryLog
	setSummary *SetSummaryLog
	xml        *XMLSummaryLog
	status     *StatusLog
	verbose    *TextLog
	console    *TextLog

	sinks  [numKinds]Sink
	logger *slog.Logger
	closed bool
}

// Open creates every log under prefix (prefix + suffix per Kind).
func Open(prefix, runID string, hooks Hooks, logger *slog.Logger) (*Set, error) {
	s := &Set{logger: logger}
	var err error

	if s.summary, err = newSummaryLog(prefix, runID, logger); err != nil {
		return nil, s.abandon(err)
	}
	s.sinks[SummaryCSV] = s.summary

	if s.setSummary, err = newSetSummaryLog(prefix, logger); err != nil {
		return nil, s.abandon(err)
	}
	s.sinks[SetSummaryCSV] = s.setSummary

	if s.xml, err = newXMLSummaryLog(prefix, hooks.OnSuite, logger); err != nil {
		return nil, s.abandon(err)
	}
	s.sinks[XMLSummary] = s.xml

	if s.status, err = newStatusLog(prefix, hooks.OnStatus, hooks.OnStatusConnect, logger); err != nil {
		return nil, s.abandon(err)
	}
	s.sinks[Status] = s.status

	if s.verbose, err = newTextLog(Verbose, prefix, false, logger); err != nil {
		return nil, s.abandon(err)
	}
	s.sinks[Verbose] = s.verbose

	if s.console, err = newTextLog(Console, prefix, true, logger); err != nil {
		return nil, s.abandon(err)
	}
	s.sinks[Console] = s.console

	logger.Debug("result_logs_opened", "prefix", prefix)
	return s, nil
}

// abandon closes whatever was opened before a failure.
func (s *Set) abandon(err error) error {
	for _, sink := range s.sinks {
		if sink != nil {
			sink.Close()
		}
	}
	return err
}

// Channel implements protocol.ChannelSet.
func (s *Set) Channel(name string) (protocol.Channel, bool) {
	k, ok := KindByChannel(name)
	if !ok {
		return nil, false
	}
	return s.sinks[k], true
}

// Sink returns the log of kind k.
func (s *Set) Sink(k Kind) Sink { return s.sinks[k] }

func (s *Set) Summary() *SummaryLog       { return s.summary }
func (s *Set) SetSummary() *SetSummaryLog { return s.setSummary }
func (s *Set) XML() *XMLSummaryLog        { return s.xml }
func (s *Set) Status() *StatusLog         { return s.status }
func (s *Set) Verbose() *TextLog          { return s.verbose }
func (s *Set) Console() *TextLog          { return s.console }

// Paths returns the file of every log.
func (s *Set) Paths() map[Kind]string {
	paths := make(map[Kind]string, numKinds)
	for _, sink := range s.sinks {
		paths[sink.Kind()] = sink.Path()
	}
	return paths
}

// Close finalizes every log once.
func (s *Set) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Debug("result_logs_closed")
	return errors.Join(errs...)
}

var _ protocol.ChannelSet = (*Set)(nil)
