// Package parser extracts structured metadata (side, line, ladder key) from
// market tickers and titles. Tickers are the preferred source; titles are a
// fallback. A parse failure never errors out, it produces side "Unknown" so
// the market can still carry stats without participating in ladder analysis.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type GroupType string

const (
	GroupWinner GroupType = "winner"
	GroupSpread GroupType = "spread"
	GroupTotal  GroupType = "total"
	GroupOther  GroupType = "other"
)

type ParseSource string

const (
	SourceTicker  ParseSource = "ticker"
	SourceTitle   ParseSource = "title"
	SourceUnknown ParseSource = "unknown"
)

type Predicate string

const (
	PredicateWinsByOver Predicate = "wins_by_over"
	PredicateTotalOver  Predicate = "total_over"
	PredicateTotalUnder Predicate = "total_under"
)

const SideUnknown = "Unknown"

// Meta is the parsed metadata attached to a market at session start.
type Meta struct {
	Ticker      string      `json:"ticker"`
	Title       string      `json:"title"`
	EventTicker string      `json:"event_ticker"`
	GroupType   GroupType   `json:"group_type"`
	Line        *float64    `json:"line,omitempty"`
	Side        string      `json:"side"`
	ParseSource ParseSource `json:"parse_source"`
	LadderKey   string      `json:"ladder_key,omitempty"`
	Predicate   Predicate   `json:"predicate,omitempty"`
	TeamAbbrev  string      `json:"team_abbrev,omitempty"`
}

// nflTeams maps ticker abbreviations to full team names.
var nflTeams = map[string]string{
	"ARI": "Arizona Cardinals",
	"ATL": "Atlanta Falcons",
	"BAL": "Baltimore Ravens",
	"BUF": "Buffalo Bills",
	"CAR": "Carolina Panthers",
	"CHI": "Chicago Bears",
	"CIN": "Cincinnati Bengals",
	"CLE": "Cleveland Browns",
	"DAL": "Dallas Cowboys",
	"DEN": "Denver Broncos",
	"DET": "Detroit Lions",
	"GB":  "Green Bay Packers",
	"HOU": "Houston Texans",
	"IND": "Indianapolis Colts",
	"JAX": "Jacksonville Jaguars",
	"KC":  "Kansas City Chiefs",
	"LAC": "Los Angeles Chargers",
	"LAR": "Los Angeles Rams",
	"LV":  "Las Vegas Raiders",
	"MIA": "Miami Dolphins",
	"MIN": "Minnesota Vikings",
	"NE":  "New England Patriots",
	"NO":  "New Orleans Saints",
	"NYG": "New York Giants",
	"NYJ": "New York Jets",
	"PHI": "Philadelphia Eagles",
	"PIT": "Pittsburgh Steelers",
	"SEA": "Seattle Seahawks",
	"SF":  "San Francisco 49ers",
	"TB":  "Tampa Bay Buccaneers",
	"TEN": "Tennessee Titans",
	"WAS": "Washington Commanders",
}

var (
	suffixRe     = regexp.MustCompile(`^([A-Z]{1,5})(\d+(?:\.\d+)?)?$`)
	floatRe      = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	winsByRe     = regexp.MustCompile(`(?i)wins?\s+by\s+(?:over\s+)?(\d+(?:\.\d+)?)`)
	teamMatchers []teamMatcher
)

type teamMatcher struct {
	re   *regexp.Regexp
	name string
}

// Matchers are tried in abbreviation order so a title mentioning both teams
// always resolves to the same side.
func init() {
	abbrevs := make([]string, 0, len(nflTeams))
	for abbrev := range nflTeams {
		abbrevs = append(abbrevs, abbrev)
	}
	sort.Strings(abbrevs)
	for _, abbrev := range abbrevs {
		name := nflTeams[abbrev]
		// Match the full name or the nickname alone ("Baltimore Ravens"
		// or "Ravens").
		parts := strings.Fields(name)
		nick := parts[len(parts)-1]
		re := regexp.MustCompile(`(?i)\b(` + regexp.QuoteMeta(name) + `|` + regexp.QuoteMeta(nick) + `)\b`)
		teamMatchers = append(teamMatchers, teamMatcher{re: re, name: name})
	}
}

// GroupTypeFromTicker classifies a market ticker by its series prefix.
func GroupTypeFromTicker(ticker string) GroupType {
	head := ticker
	if i := strings.Index(ticker, "-"); i >= 0 {
		head = ticker[:i]
	}
	head = strings.ToUpper(head)
	switch {
	case strings.Contains(head, "SPREAD"):
		return GroupSpread
	case strings.Contains(head, "TOTAL"):
		return GroupTotal
	case strings.Contains(head, "GAME") || strings.Contains(head, "WINNER"):
		return GroupWinner
	default:
		return GroupOther
	}
}

// ParseSuffix examines the final dash-separated segment of a ticker and
// returns a side label and line. The label is a team abbreviation ("BAL"),
// "OVER"/"UNDER", or empty when nothing matched.
func ParseSuffix(ticker string) (string, *float64) {
	if ticker == "" {
		return "", nil
	}
	segs := strings.Split(ticker, "-")
	last := segs[len(segs)-1]

	m := suffixRe.FindStringSubmatch(last)
	if m == nil {
		return "", nil
	}
	prefix := m[1]
	var line *float64
	if m[2] != "" {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			line = &v
		}
	}

	if _, ok := nflTeams[prefix]; ok {
		return prefix, line
	}
	switch prefix {
	case "O", "OV", "OVER":
		return "OVER", line
	case "U", "UN", "UNDER":
		return "UNDER", line
	}
	return "", nil
}

// Parse derives side, line, parse source and ladder key for one market.
func Parse(ticker, title string, groupType GroupType, gameID string) Meta {
	meta := Meta{
		Ticker:      ticker,
		Title:       title,
		GroupType:   groupType,
		Side:        SideUnknown,
		ParseSource: SourceUnknown,
	}

	if label, line := ParseSuffix(ticker); label != "" {
		switch label {
		case "OVER":
			meta.Side = "Over"
		case "UNDER":
			meta.Side = "Under"
		default:
			meta.Side = nflTeams[label]
			meta.TeamAbbrev = label
		}
		meta.Line = line
		meta.ParseSource = SourceTicker
	}

	if meta.Side == SideUnknown {
		side, line := parseTitle(title, groupType)
		if side != "" {
			meta.Side = side
			meta.ParseSource = SourceTitle
		}
		if meta.Line == nil {
			meta.Line = line
		}
	}

	meta.LadderKey, meta.Predicate = ladderKey(groupType, gameID, meta.Side)
	return meta
}

func parseTitle(title string, groupType GroupType) (string, *float64) {
	if title == "" {
		return "", nil
	}

	switch groupType {
	case GroupTotal:
		var line *float64
		if m := floatRe.FindString(title); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				line = &v
			}
		}
		lower := strings.ToLower(title)
		if strings.Contains(lower, "over") {
			return "Over", line
		}
		if strings.Contains(lower, "under") {
			return "Under", line
		}
		return "", line

	case GroupSpread:
		var line *float64
		if m := winsByRe.FindStringSubmatch(title); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				line = &v
			}
		} else if m := floatRe.FindString(title); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				line = &v
			}
		}
		for _, tm := range teamMatchers {
			if tm.re.MatchString(title) {
				return tm.name, line
			}
		}
		lower := strings.ToLower(title)
		if strings.Contains(lower, "home") {
			return "Home", line
		}
		if strings.Contains(lower, "away") {
			return "Away", line
		}
		return "", line
	}

	return "", nil
}

// ladderKey builds the canonical grouping key for spread and total markets.
// Markets without a resolved side get no key and stay out of ladders.
func ladderKey(groupType GroupType, gameID, side string) (string, Predicate) {
	if side == SideUnknown || side == "" {
		return "", ""
	}
	switch groupType {
	case GroupSpread:
		return fmt.Sprintf("%s|spread|%s|%s", gameID, side, PredicateWinsByOver), PredicateWinsByOver
	case GroupTotal:
		pred := PredicateTotalOver
		if strings.EqualFold(side, "Under") {
			pred = PredicateTotalUnder
		}
		return fmt.Sprintf("%s|total|%s|%s", gameID, side, pred), pred
	}
	return "", ""
}

// TeamName resolves a ticker abbreviation to the full team name.
func TeamName(abbrev string) (string, bool) {
	name, ok := nflTeams[abbrev]
	return name, ok
}
