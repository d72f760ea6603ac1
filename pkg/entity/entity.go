// Package entity derives canonical identifiers from hyperlink paths.
//
// Each entity kind has one named path rule. Site layout drift only needs an
// update here.
package entity

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gridstat/pfr-crawler/pkg/locate"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Kind names an entity whose identifier is embedded in link paths.
type Kind string

const (
	Team    Kind = "team"    // /teams/{id}/2021.htm
	Coach   Kind = "coach"   // /coaches/{id}.htm
	Stadium Kind = "stadium" // /stadiums/{id}.htm
	Game    Kind = "game"    // /boxscores/{id}.htm
	Player  Kind = "player"  // /nfl/players/{id}.php
)

type pathRule struct {
	prefix string
	suffix string // required when the id is the last path segment
	nested bool   // id is followed by further segments
	upper  bool
}

func ruleFor(k Kind) (pathRule, bool) {
	switch k {
	case Team:
		return pathRule{prefix: "/teams/", suffix: ".htm", nested: true, upper: true}, true
	case Coach:
		return pathRule{prefix: "/coaches/", suffix: ".htm"}, true
	case Stadium:
		return pathRule{prefix: "/stadiums/", suffix: ".htm"}, true
	case Game:
		return pathRule{prefix: "/boxscores/", suffix: ".htm"}, true
	case Player:
		return pathRule{prefix: "/nfl/players/", suffix: ".php"}, true
	}
	return pathRule{}, false
}

// ParseKind validates a kind name from configuration.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ruleFor(k); !ok {
		return "", fmt.Errorf("%w: unknown entity kind %q", utils.ErrConfigValidation, s)
	}
	return k, nil
}

// Extract returns the identifier of kind k embedded in href, which may be a
// site-relative path or an absolute URL. A path of the wrong shape yields
// ("", false); it is never an error.
func Extract(k Kind, href string) (string, bool) {
	rule, ok := ruleFor(k)
	if !ok {
		return "", false
	}
	path := strings.TrimSpace(href)
	if path == "" {
		return "", false
	}
	if strings.Contains(path, "://") || strings.HasPrefix(path, "//") {
		u, err := url.Parse(path)
		if err != nil {
			return "", false
		}
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	rest, found := strings.CutPrefix(path, rule.prefix)
	if !found {
		return "", false
	}

	var id string
	if seg, _, hasMore := strings.Cut(rest, "/"); hasMore {
		if !rule.nested {
			return "", false
		}
		id = seg
	} else {
		id, found = strings.CutSuffix(rest, rule.suffix)
		if !found {
			return "", false
		}
	}
	if id == "" {
		return "", false
	}
	if rule.upper {
		id = strings.ToUpper(id)
	}
	return id, true
}

// ExtractFromSelection extracts the identifier from the first hyperlink at or
// under sel.
func ExtractFromSelection(k Kind, sel *goquery.Selection) (string, bool) {
	href, ok := locate.FindHref(sel)
	if !ok {
		return "", false
	}
	return Extract(k, href)
}
