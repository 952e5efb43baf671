package results

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	closedCaseRe = regexp.MustCompile(`^\s*</testcase>|^\s*<testcase\s+name="[^"]+"\s*/>`)
	caseRe       = regexp.MustCompile(`^\s*<testcase\s`)
	failureRe    = regexp.MustCompile(`^\s*<failure\s`)
)

// NoCasesMessage is the failure of the synthetic case written when a
// session produced no test case at all.
const NoCasesMessage = "zero test case executes - fail to launch or empty suite"

// XMLSummaryLog caches the JUnit-like case elements the runner sends and
// writes the complete document on Close. The first line received is the
// suite name.
type XMLSummaryLog struct {
	*fileLog
	onSuite   func(name string)
	suiteName string
	haveSuite bool
	cache     []string
}

func newXMLSummaryLog(prefix string, onSuite func(string), logger *slog.Logger) (*XMLSummaryLog, error) {
	fl, err := openFileLog(XMLSummary, prefix, logger)
	if err != nil {
		return nil, err
	}
	return &XMLSummaryLog{fileLog: fl, onSuite: onSuite}, nil
}

// Action caches a line, escaping non-printable characters that would break
// XML parsers.
func (l *XMLSummaryLog) Action(line string) {
	line = escapeNonPrintable(line)
	if !l.haveSuite {
		l.haveSuite = true
		l.suiteName = line
		if l.onSuite != nil {
			l.onSuite(line)
		}
		return
	}
	l.cache = append(l.cache, line)
}

// AppendCase adds a case the runner could not report, such as a crash or
// a timeout. An empty failure records a passing case.
func (l *XMLSummaryLog) AppendCase(set, id, failure string) {
	l.closeOpenCase()
	if set == "" {
		set = "unknown"
	}
	if id == "" {
		id = "unknown"
	}
	name := escapeAttr(set + "-" + id)
	if failure == "" {
		l.cache = append(l.cache, fmt.Sprintf(`  <testcase name="%s" />`, name))
		return
	}
	l.cache = append(l.cache,
		fmt.Sprintf(`  <testcase name="%s">`, name),
		fmt.Sprintf(`    <failure message="%s" />`, escapeAttr(failure)),
		"  </testcase>",
	)
}

// closeOpenCase closes a testcase left open by a broken connection.
func (l *XMLSummaryLog) closeOpenCase() {
	if n := len(l.cache); n > 0 && !closedCaseRe.MatchString(l.cache[n-1]) {
		l.cache = append(l.cache, "  </testcase>")
	}
}

// Counts returns the cases and failures cached so far.
func (l *XMLSummaryLog) Counts() (total, failures int) {
	for _, line := range l.cache {
		if caseRe.MatchString(line) {
			total++
		}
		if failureRe.MatchString(line) {
			failures++
		}
	}
	return total, failures
}

// Close writes the document. A document without cases gets one failing
// case so JUnit consumers report red.
func (l *XMLSummaryLog) Close() error {
	if l.closed {
		return nil
	}
	l.closeOpenCase()

	total, failures := l.Counts()
	if total == 0 {
		l.AppendCase("Unknown", "1", NoCasesMessage)
		total, failures = 1, 1
	}

	suite := strings.TrimSpace(l.suiteName)
	if !l.haveSuite {
		suite = "unknown"
	}

	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8" ?>` + "\n")
	fmt.Fprintf(&doc, `<testsuite tests="%d" failures="%d" name="%s">`+"\n", total, failures, escapeAttr(suite))
	doc.WriteString(strings.Join(l.cache, "\n"))
	doc.WriteString("\n</testsuite>\n")

	l.writeRaw(doc.String())
	return l.fileLog.Close()
}

func escapeAttr(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// escapeNonPrintable replaces control characters with their quoted form.
func escapeNonPrintable(s string) string {
	if strings.IndexFunc(s, nonPrintable) < 0 {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if nonPrintable(r) {
			b.WriteString(strconv.QuoteRune(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nonPrintable(r rune) bool {
	return r != '\t' && !unicode.IsPrint(r)
}
