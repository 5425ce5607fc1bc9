package report

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/sofmeright/treebuild/src/scheduler"
)

// JUnit XML types for CI test reporting. Each run is one suite and each
// image one test case.

type JUnitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type JUnitSkipped struct {
	Message string `xml:"message,attr"`
}

// maxJUnitOutput caps captured build output per test case.
const maxJUnitOutput = 64 * 1024

func seconds(ms int64) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000)
}

func (r *Report) writeJUnit(w io.Writer) error {
	suite := JUnitTestSuite{
		Name:     "treebuild/" + r.RunID,
		Tests:    len(r.Nodes),
		Failures: r.Count(scheduler.Failed),
		Skipped:  r.Count(scheduler.Skipped),
		Time:     seconds(r.DurationMS),
	}

	for _, n := range r.Nodes {
		tc := JUnitTestCase{
			Name:      n.ID,
			Classname: "treebuild.images",
			Time:      seconds(n.DurationMS),
		}
		switch scheduler.Status(n.Status) {
		case scheduler.Failed:
			tc.Failure = &JUnitFailure{
				Message: n.Error,
				Type:    n.ErrorType,
				Body:    tail(n.Output, maxJUnitOutput),
			}
		case scheduler.Skipped:
			msg := n.Cause
			if n.SkippedBy != "" {
				msg = "parent " + n.SkippedBy + " failed"
			}
			tc.Skipped = &JUnitSkipped{Message: msg}
		default:
			tc.SystemOut = tail(n.Output, maxJUnitOutput)
		}
		suite.Cases = append(suite.Cases, tc)
	}

	suites := JUnitTestSuites{
		Name:     "treebuild",
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Skipped:  suite.Skipped,
		Time:     suite.Time,
		Suites:   []JUnitTestSuite{suite},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(suites); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// tail keeps the last n bytes of s, where build errors usually are.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "...\n" + s[len(s)-n:]
}
