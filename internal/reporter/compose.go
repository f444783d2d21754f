package reporter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"kassenews/internal/types"
)

const (
	// DefaultLinkBaseURL is the prefix of the live contest page links.
	DefaultLinkBaseURL = "http://tket.dk/5/"

	// bulletThreshold is the group size from which results are listed as
	// bullets instead of one long sentence.
	bulletThreshold = 4
)

// tagContinues relabels TagStarted when results are already in, so the text
// does not suggest the contest just began.
const tagContinues StateTag = "continues"

// Name templates take the joined participant names.
var nameTemplates = map[StateTag]string{
	TagUpcoming:  "%s gør klar til at tage øl på tid.",
	TagStarted:   "%s er begyndt at drikke!",
	tagContinues: "%s drikker stadig.",
}

// Item templates take name, leg count and time text.
var itemTemplates = map[StateTag]string{
	TagTime:    "tiden for %s blev %d øl på %s",
	TagDNF:     "%s lavede en DNF: %d øl på %s",
	TagInvalid: "%s resultat blev ikke godkendt: %d øl på %s",
}

var bulletHeaders = map[StateTag]string{
	TagTime:    "Tiderne blev:",
	TagDNF:     "DNF:",
	TagInvalid: "Ikke godkendt:",
}

type standing struct {
	participant types.Participant
	state       ReportState
}

// DescribeStates writes the headline of a post from the state of every
// participant on it. Participants are grouped by state; a group of four or
// more results becomes a bulleted list. It panics when states is empty.
func DescribeStates(states map[types.Participant]ReportState) string {
	if len(states) == 0 {
		panic("reporter: DescribeStates called without participants")
	}

	groups := make(map[StateTag][]standing)
	for p, s := range states {
		groups[s.Tag] = append(groups[s.Tag], standing{participant: p, state: s})
	}
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool {
			if g[i].participant.Name != g[j].participant.Name {
				return g[i].participant.Name < g[j].participant.Name
			}
			return g[i].participant.ID < g[j].participant.ID
		})
	}

	var texts []string
	for _, tag := range []StateTag{TagTime, TagDNF, TagInvalid} {
		g := groups[tag]
		if len(g) == 0 {
			continue
		}
		if len(g) >= bulletThreshold {
			texts = append(texts, bulletList(tag, g))
			continue
		}
		parts := make([]string, 0, len(g))
		for _, s := range g {
			parts = append(parts, describeItem(tag, s))
		}
		texts = append(texts, JoinParts(parts, !strings.HasPrefix(itemTemplates[tag], "%")))
	}

	if started := groups[TagStarted]; len(started) > 0 {
		tag := TagStarted
		if len(groups[TagTime])+len(groups[TagDNF]) > 0 {
			tag = tagContinues
		}
		texts = append(texts, fmt.Sprintf(nameTemplates[tag], JoinNames(names(started))))
	}
	if upcoming := groups[TagUpcoming]; len(upcoming) > 0 {
		texts = append(texts, fmt.Sprintf(nameTemplates[TagUpcoming], JoinNames(names(upcoming))))
	}

	return strings.Join(texts, "\n")
}

func describeItem(tag StateTag, s standing) string {
	name := s.participant.Name
	if tag == TagInvalid {
		name = genitive(name)
	}
	return fmt.Sprintf(itemTemplates[tag], name, s.state.LegCount, s.state.TimeText)
}

func bulletList(tag StateTag, g []standing) string {
	sorted := make([]standing, len(g))
	copy(sorted, g)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].state, sorted[j].state
		if a.LegCount != b.LegCount {
			return a.LegCount > b.LegCount
		}
		return a.Seconds < b.Seconds
	})

	lines := []string{bulletHeaders[tag]}
	for _, s := range sorted {
		lines = append(lines, fmt.Sprintf("* %s: %d øl på %s",
			s.participant.Name, s.state.LegCount, s.state.TimeText))
	}
	return strings.Join(lines, "\n")
}

func names(g []standing) []string {
	out := make([]string, len(g))
	for i, s := range g {
		out[i] = s.participant.Name
	}
	return out
}

// JoinNames joins names the Danish way: "A", "A og B", "A, B og C".
// No names gives "Ingen".
func JoinNames(names []string) string {
	switch len(names) {
	case 0:
		return "Ingen"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " og " + names[len(names)-1]
	}
}

// JoinParts joins sentence fragments into one sentence ending in a full
// stop: "a og b." or "a, b, og c.". With ucfirst the first letter is
// capitalized. No parts gives the empty string.
func JoinParts(parts []string, ucfirst bool) string {
	var s string
	switch len(parts) {
	case 0:
		return ""
	case 1:
		s = parts[0]
	case 2:
		s = parts[0] + " og " + parts[1]
	default:
		s = strings.Join(parts[:len(parts)-1], ", ") + ", og " + parts[len(parts)-1]
	}
	if ucfirst {
		s = upperFirst(s)
	}
	return s + "."
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// genitive returns the Danish possessive form of a name: "Annas", "Lars'".
func genitive(name string) string {
	switch {
	case name == "":
		return name
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"), strings.HasSuffix(name, "z"):
		return name + "'"
	default:
		return name + "s"
	}
}

// ParticipantFact is a comment fact together with the participant it is about.
type ParticipantFact struct {
	Participant types.Participant
	Fact        CommentFact
}

// Composer renders the parts of the text that depend on deployment settings:
// link targets and the local time zone.
type Composer struct {
	linkBaseURL string
	location    *time.Location
}

// NewComposer creates a Composer. Empty or nil arguments fall back to
// DefaultLinkBaseURL and UTC.
func NewComposer(linkBaseURL string, location *time.Location) *Composer {
	if linkBaseURL == "" {
		linkBaseURL = DefaultLinkBaseURL
	}
	if location == nil {
		location = time.UTC
	}
	return &Composer{
		linkBaseURL: strings.TrimSuffix(linkBaseURL, "/") + "/",
		location:    location,
	}
}

// CommentToString renders one comment fact as a sentence.
func (c *Composer) CommentToString(p types.Participant, f CommentFact) string {
	switch f.Kind {
	case CommentResidue:
		return fmt.Sprintf("%s rest var %s cL.", genitive(p.Name), strconv.FormatFloat(f.Residue, 'f', -1, 64))
	case CommentText:
		return fmt.Sprintf("%s kommentar: \"%s\".", genitive(p.Name), f.Text)
	case CommentAttachment:
		return fmt.Sprintf("%s tilføjede et billede.", p.Name)
	case CommentLap:
		return fmt.Sprintf("%s drak øl nummer %d kl. %s (%s).",
			p.Name, f.Lap, f.At.In(c.location).Format("15:04"), FormatDuration(f.Split))
	default:
		return fmt.Sprintf("%s: %s", p.Name, f.Kind)
	}
}

// DescribeComments renders facts one sentence per line.
func (c *Composer) DescribeComments(facts []ParticipantFact) string {
	lines := make([]string, len(facts))
	for i, pf := range facts {
		lines[i] = c.CommentToString(pf.Participant, pf.Fact)
	}
	return strings.Join(lines, "\n")
}

// InfoLinks builds the "follow along" line linking every contest, in
// ascending ID order. It returns the empty string when there are no records.
func (c *Composer) InfoLinks(records []types.ContestRecord) string {
	seen := make(map[int64]bool, len(records))
	var ids []int64
	for _, r := range records {
		if !seen[r.ID] {
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	links := make([]string, len(ids))
	for i, id := range ids {
		links[i] = c.linkBaseURL + strconv.FormatInt(id, 10)
	}
	return "Følg med: " + strings.Join(links, " ")
}
