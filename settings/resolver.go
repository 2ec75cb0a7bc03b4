// Package settings resolves per-conversation model configuration from
// annotated channel text. Channels configure the assistant by writing emoji
// markers into their topic or description; each marker supplies one field
// and the fields merge independently: topic beats description beats
// workspace defaults beats built-in constants.
package settings

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/yujiosaka/ChatIQ/core"
)

// Annotation markers recognized in topic and description text.
const (
	TemperatureMarker   = ":thermometer:"
	TimezoneMarker      = ":round_pushpin:"
	SystemMessageMarker = ":speech_balloon:"
)

// markerToken matches any emoji-style token at the start of a line; the
// payload of one marker runs until the next such token or end of text.
var markerToken = regexp.MustCompile(`(?m)^:[^\s:]+:`)

// Resolver turns raw channel text into Settings. Resolution is pure and
// total: every field always gets a value. The ristretto cache only
// short-circuits repeated resolution of identical inputs; topic and
// description change rarely relative to message volume.
type Resolver struct {
	cache *ristretto.Cache
	log   *zap.Logger
}

// NewResolver creates a Resolver. A nil logger disables logging.
func NewResolver(log *zap.Logger) (*Resolver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Resolver{cache: cache, log: log}, nil
}

// Resolve merges topic, description, and workspace defaults into a
// complete Settings value. Malformed or out-of-range payloads are treated
// as absent for that field only; nothing here returns an error.
func (r *Resolver) Resolve(topic, description string, defaults core.Settings) core.Settings {
	key := topic + "\x00" + description + "\x00" + defaults.Timezone + "\x00" +
		strconv.FormatFloat(defaults.Temperature, 'f', -1, 64) + "\x00" + defaults.SystemMessage
	if cached, ok := r.cache.Get(key); ok {
		if s, ok := cached.(core.Settings); ok {
			return s
		}
	}

	resolved := core.Settings{
		Temperature:   r.resolveTemperature(topic, description, defaults),
		Timezone:      r.resolveTimezone(topic, description, defaults),
		SystemMessage: r.resolveSystemMessage(topic, description, defaults),
	}
	r.cache.Set(key, resolved, int64(len(key)))
	return resolved
}

func (r *Resolver) resolveTemperature(topic, description string, defaults core.Settings) float64 {
	for _, text := range []string{topic, description} {
		payload, ok := ExtractMarkerText(text, TemperatureMarker)
		if !ok {
			continue
		}
		temp, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			r.log.Debug("ignoring malformed temperature annotation", zap.String("payload", payload))
			continue
		}
		if temp < core.MinTemperature || temp > core.MaxTemperature {
			r.log.Debug("ignoring out-of-range temperature annotation", zap.Float64("temperature", temp))
			continue
		}
		return temp
	}
	if defaults.Temperature >= core.MinTemperature && defaults.Temperature <= core.MaxTemperature {
		return defaults.Temperature
	}
	return core.DefaultTemperature
}

func (r *Resolver) resolveTimezone(topic, description string, defaults core.Settings) string {
	for _, text := range []string{topic, description} {
		payload, ok := ExtractMarkerText(text, TimezoneMarker)
		if !ok {
			continue
		}
		if !ValidTimezone(payload) {
			r.log.Debug("ignoring invalid timezone annotation", zap.String("payload", payload))
			continue
		}
		return payload
	}
	if ValidTimezone(defaults.Timezone) {
		return defaults.Timezone
	}
	return core.DefaultTimezone
}

func (r *Resolver) resolveSystemMessage(topic, description string, defaults core.Settings) string {
	for _, text := range []string{topic, description} {
		if payload, ok := ExtractMarkerText(text, SystemMessageMarker); ok {
			return payload
		}
	}
	if defaults.SystemMessage != "" {
		return defaults.SystemMessage
	}
	return core.DefaultSystemMessage
}

// ExtractMarkerText returns the trimmed payload following marker in text.
// The marker must sit at the start of the text or of a line; the payload
// runs to the next line-leading emoji token or the end of the text. An
// empty payload reports false.
func ExtractMarkerText(text, marker string) (string, bool) {
	for _, loc := range markerToken.FindAllStringIndex(text, -1) {
		if text[loc[0]:loc[1]] != marker {
			continue
		}
		rest := text[loc[1]:]
		if next := markerToken.FindStringIndex(rest); next != nil {
			rest = rest[:next[0]]
		}
		payload := strings.TrimSpace(rest)
		if payload == "" {
			return "", false
		}
		return payload, true
	}
	return "", false
}
