// Package results writes the per-session result logs fed by the test
// runner's log channels and by the session itself.
package results

// Kind identifies one result log.
type Kind int

const (
	SummaryCSV Kind = iota
	SetSummaryCSV
	XMLSummary
	Status
	Verbose
	Console

	numKinds
)

// Kinds lists every result log in creation order.
var Kinds = []Kind{SummaryCSV, SetSummaryCSV, XMLSummary, Status, Verbose, Console}

var kindInfo = [numKinds]struct {
	channel string
	suffix  string
}{
	SummaryCSV:    {"SummaryCsvLog", "__summary.csv"},
	SetSummaryCSV: {"SetSummaryCsvLog", "__set_summary.csv"},
	XMLSummary:    {"XmlSummaryLog", "__summary.xml"},
	Status:        {"ServerStatusLog", "__status.log"},
	Verbose:       {"VerboseLog", "__verbose.log"},
	Console:       {"Console", "__console.log"},
}

// ChannelName is the name the runner announces on the connection.
func (k Kind) ChannelName() string {
	if k < 0 || k >= numKinds {
		return ""
	}
	return kindInfo[k].channel
}

// Suffix is appended to the output prefix to form the file name.
func (k Kind) Suffix() string {
	if k < 0 || k >= numKinds {
		return ""
	}
	return kindInfo[k].suffix
}

// String returns the channel name.
func (k Kind) String() string {
	if name := k.ChannelName(); name != "" {
		return name
	}
	return "unknown"
}

// KindByChannel maps an announced channel name to its Kind.
func KindByChannel(name string) (Kind, bool) {
	for _, k := range Kinds {
		if kindInfo[k].channel == name {
			return k, true
		}
	}
	return 0, false
}
