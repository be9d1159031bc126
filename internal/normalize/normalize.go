// Package normalize turns raw registry documents into the canonical
// package/version/dependency shape consumed by the follower.
//
// Registry history carries several metadata dialects. Dependencies may be an
// object of name to range, a legacy array of "name@range" strings, or absent.
// Versions are canonicalized with semver; records whose version cannot be
// parsed are dropped rather than failing the whole document.
package normalize

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// AnyRange is substituted for empty or missing ranges.
const AnyRange = "*"

// Normalizer implements follower.Normalizer.
type Normalizer struct {
	logger *zap.Logger
}

var _ follower.Normalizer = (*Normalizer)(nil)

// New returns a Normalizer. A nil logger disables dropped-record logging.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize never fails. Unusable version records are omitted.
func (n *Normalizer) Normalize(doc follower.Document) follower.Package {
	name, _ := doc.Name()
	pkg := follower.Package{Name: strings.TrimSpace(name), Versions: map[string]follower.Version{}}
	raw, _ := doc.Versions()

	// Visit keys in order so collisions after cleaning resolve deterministically.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		version, ok := CleanVersion(key)
		if !ok {
			n.logger.Debug("dropping unparsable version",
				zap.String("package", pkg.Name), zap.String("version", key))
			continue
		}
		record, ok := raw[key].(map[string]any)
		if !ok {
			n.logger.Debug("dropping non-object version record",
				zap.String("package", pkg.Name), zap.String("version", key))
			continue
		}
		if _, dup := pkg.Versions[version]; dup && version != key {
			// The exact spelling wins over a looser alias.
			continue
		}
		pkg.Versions[version] = follower.Version{Dependencies: Dependencies(record["dependencies"])}
	}
	return pkg
}

// CleanVersion validates v as a full major.minor.patch version and returns its
// canonical form. Surrounding whitespace and a leading "=" or "v" are dropped,
// as npm does; partial versions such as "1.2" are rejected rather than padded.
func CleanVersion(v string) (string, bool) {
	v = strings.TrimSpace(v)
	v = strings.TrimLeft(strings.TrimPrefix(v, "="), "v")
	if v == "" {
		return "", false
	}
	parsed, err := semver.StrictNewVersion(v)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

// Dependencies converts any of the known dependency encodings into a
// name→range map. The result is never nil.
func Dependencies(raw any) map[string]string {
	out := map[string]string{}
	switch deps := raw.(type) {
	case map[string]any:
		for name, rng := range deps {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			s, ok := rng.(string)
			if !ok {
				continue
			}
			out[name] = rangeOrAny(s)
		}
	case map[string]string:
		for name, rng := range deps {
			if name = strings.TrimSpace(name); name != "" {
				out[name] = rangeOrAny(rng)
			}
		}
	case []any:
		for _, item := range deps {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if name, rng, ok := splitSpec(s); ok {
				out[name] = rng
			}
		}
	}
	return out
}

// splitSpec parses "name@range" and "name". A leading '@' belongs to a
// scoped package name, so "@scope/pkg@^1" splits at the second '@'.
func splitSpec(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return s, AnyRange, true
	}
	name := strings.TrimSpace(s[:at])
	if name == "" {
		return "", "", false
	}
	return name, rangeOrAny(s[at+1:]), true
}

func rangeOrAny(r string) string {
	r = strings.TrimSpace(r)
	if r == "" || r == "latest" {
		return AnyRange
	}
	return r
}
