package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// Setting keys stored in a community's configuration blob.
const (
	KeyTicketCategory    = "ticket_category"
	KeyArchiveCategory   = "archive_category"
	KeyLogChannel        = "log_channel"
	KeyTranscriptChannel = "transcript_channel"
	KeySupportRole       = "support_role"
	KeyTraineeRole       = "trainee_role"
	KeyAdminRole         = "admin_role"
	KeyPanelChannel      = "panel_channel"
	KeyPanelMessage      = "panel_message"
	KeyPanelTitle        = "panel_title"
	KeyPanelDescription  = "panel_description"
	KeyPanelColor        = "panel_color"
	KeyPanelImage        = "panel_image"
	KeyPanelThumbnail    = "panel_thumbnail"
	KeyTicketPrefix      = "ticket_prefix"
	KeyMaxTickets        = "max_tickets"
	KeyAutoCloseMinutes  = "auto_close_minutes"
	KeyAutoCloseDays     = "auto_close_days"
	KeyRequireReason     = "require_reason"
	KeyWorkStartHour     = "work_start_hour"
	KeyWorkEndHour       = "work_end_hour"
)

// Settings is the typed view of a community configuration.
type Settings struct {
	TicketCategory    string
	ArchiveCategory   string
	LogChannel        string
	TranscriptChannel string
	SupportRole       string
	TraineeRole       string
	AdminRole         string
	PanelChannel      string
	PanelMessage      string
	PanelTitle        string
	PanelDescription  string
	PanelColor        int
	PanelImage        string
	PanelThumbnail    string
	TicketPrefix      string
	MaxTickets        int
	AutoCloseMinutes  int
	AutoCloseDays     int
	RequireReason     bool
	WorkStartHour     int
	WorkEndHour       int
}

// DefaultSettings returns the view of a community that was never configured.
func DefaultSettings() Settings {
	return Settings{
		PanelTitle:       "Support Tickets",
		PanelDescription: "Click the button below to create a ticket",
		PanelColor:       0x9b59b6,
		TicketPrefix:     "ticket-",
		MaxTickets:       3,
		AutoCloseMinutes: 30,
		AutoCloseDays:    1,
		RequireReason:    false,
		WorkStartHour:    10,
		WorkEndHour:      22,
	}
}

// WarnThreshold is the silence after which an inactivity warning fires.
func (s Settings) WarnThreshold() time.Duration {
	return time.Duration(s.AutoCloseMinutes) * time.Minute
}

// CloseThreshold is the silence after which a ticket is auto-closed.
func (s Settings) CloseThreshold() time.Duration {
	return time.Duration(s.AutoCloseDays) * 24 * time.Hour
}

type settingKind int

const (
	kindRef settingKind = iota
	kindText
	kindInt
	kindColor
	kindBool
)

type settingSpec struct {
	key    string
	kind   settingKind
	min    int
	max    int
	str    func(*Settings) *string
	num    func(*Settings) *int
	flag   func(*Settings) *bool
	maxLen int
}

var settingSpecs = []settingSpec{
	{key: KeyTicketCategory, kind: kindRef, str: func(s *Settings) *string { return &s.TicketCategory }},
	{key: KeyArchiveCategory, kind: kindRef, str: func(s *Settings) *string { return &s.ArchiveCategory }},
	{key: KeyLogChannel, kind: kindRef, str: func(s *Settings) *string { return &s.LogChannel }},
	{key: KeyTranscriptChannel, kind: kindRef, str: func(s *Settings) *string { return &s.TranscriptChannel }},
	{key: KeySupportRole, kind: kindRef, str: func(s *Settings) *string { return &s.SupportRole }},
	{key: KeyTraineeRole, kind: kindRef, str: func(s *Settings) *string { return &s.TraineeRole }},
	{key: KeyAdminRole, kind: kindRef, str: func(s *Settings) *string { return &s.AdminRole }},
	{key: KeyPanelChannel, kind: kindRef, str: func(s *Settings) *string { return &s.PanelChannel }},
	{key: KeyPanelMessage, kind: kindRef, str: func(s *Settings) *string { return &s.PanelMessage }},
	{key: KeyPanelTitle, kind: kindText, min: 1, maxLen: 256, str: func(s *Settings) *string { return &s.PanelTitle }},
	{key: KeyPanelDescription, kind: kindText, min: 1, maxLen: 4000, str: func(s *Settings) *string { return &s.PanelDescription }},
	{key: KeyPanelColor, kind: kindColor, min: 0, max: 0xFFFFFF, num: func(s *Settings) *int { return &s.PanelColor }},
	{key: KeyPanelImage, kind: kindText, maxLen: 512, str: func(s *Settings) *string { return &s.PanelImage }},
	{key: KeyPanelThumbnail, kind: kindText, maxLen: 512, str: func(s *Settings) *string { return &s.PanelThumbnail }},
	{key: KeyTicketPrefix, kind: kindText, min: 1, maxLen: 32, str: func(s *Settings) *string { return &s.TicketPrefix }},
	{key: KeyMaxTickets, kind: kindInt, min: 1, max: 10, num: func(s *Settings) *int { return &s.MaxTickets }},
	{key: KeyAutoCloseMinutes, kind: kindInt, min: 1, max: 1440, num: func(s *Settings) *int { return &s.AutoCloseMinutes }},
	{key: KeyAutoCloseDays, kind: kindInt, min: 1, max: 30, num: func(s *Settings) *int { return &s.AutoCloseDays }},
	{key: KeyRequireReason, kind: kindBool, flag: func(s *Settings) *bool { return &s.RequireReason }},
	{key: KeyWorkStartHour, kind: kindInt, min: 0, max: 23, num: func(s *Settings) *int { return &s.WorkStartHour }},
	{key: KeyWorkEndHour, kind: kindInt, min: 0, max: 23, num: func(s *Settings) *int { return &s.WorkEndHour }},
}

func lookupSpec(key string) (settingSpec, bool) {
	for _, spec := range settingSpecs {
		if spec.key == key {
			return spec, true
		}
	}
	return settingSpec{}, false
}

// SettingKeys lists every known key in display order.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingSpecs))
	for _, spec := range settingSpecs {
		keys = append(keys, spec.key)
	}
	return keys
}

// Value returns the typed value for key.
func (s Settings) Value(key string) (any, bool) {
	spec, ok := lookupSpec(key)
	if !ok {
		return nil, false
	}
	switch {
	case spec.str != nil:
		return *spec.str(&s), true
	case spec.num != nil:
		return *spec.num(&s), true
	default:
		return *spec.flag(&s), true
	}
}

// Map renders every setting keyed by name.
func (s Settings) Map() map[string]any {
	out := make(map[string]any, len(settingSpecs))
	for _, key := range SettingKeys() {
		out[key], _ = s.Value(key)
	}
	return out
}

// SettingsFromJSON overlays a stored blob on the defaults. Keys that are
// unknown or hold values of the wrong shape keep their default.
func SettingsFromJSON(blob []byte) (Settings, error) {
	settings := DefaultSettings()
	if len(blob) == 0 {
		return settings, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return settings, fmt.Errorf("decode settings: %w", err)
	}
	for key, value := range raw {
		spec, ok := lookupSpec(key)
		if !ok {
			continue
		}
		switch {
		case spec.str != nil:
			var str string
			if err := json.Unmarshal(value, &str); err == nil {
				*spec.str(&settings) = str
				continue
			}
			// ids written by older tooling may be numeric
			var num json.Number
			if err := json.Unmarshal(value, &num); err == nil {
				*spec.str(&settings) = num.String()
			}
		case spec.num != nil:
			var num int
			if err := json.Unmarshal(value, &num); err == nil && num >= spec.min && num <= spec.max {
				*spec.num(&settings) = num
			}
		case spec.flag != nil:
			var flag bool
			if err := json.Unmarshal(value, &flag); err == nil {
				*spec.flag(&settings) = flag
			}
		}
	}
	return settings, nil
}

// ParseSetting validates operator input for key and returns its JSON encoding.
func ParseSetting(key, input string) (json.RawMessage, error) {
	spec, ok := lookupSpec(key)
	if !ok {
		return nil, apperrors.NewValidationError("unknown setting", map[string]any{"key": key})
	}
	input = strings.TrimSpace(input)
	invalid := func(reason string) error {
		return apperrors.NewValidationError(fmt.Sprintf("invalid value for %s: %s", key, reason),
			map[string]any{"key": key, "value": input})
	}

	var value any
	switch spec.kind {
	case kindRef:
		ref, err := parseRef(input)
		if err != nil {
			return nil, invalid(err.Error())
		}
		value = ref
	case kindText:
		if len([]rune(input)) < spec.min {
			return nil, invalid("must not be empty")
		}
		if len([]rune(input)) > spec.maxLen {
			return nil, invalid(fmt.Sprintf("must be at most %d characters", spec.maxLen))
		}
		value = input
	case kindInt, kindColor:
		num, err := parseNumber(input, spec.kind == kindColor)
		if err != nil {
			return nil, invalid("not a number")
		}
		if num < spec.min || num > spec.max {
			return nil, invalid(fmt.Sprintf("must be between %d and %d", spec.min, spec.max))
		}
		value = num
	case kindBool:
		flag, err := parseFlag(input)
		if err != nil {
			return nil, invalid("expected true or false")
		}
		value = flag
	}
	return json.Marshal(value)
}

// parseRef accepts a bare id or a platform mention such as <#C123|name> or <@U1>.
func parseRef(input string) (string, error) {
	if strings.EqualFold(input, "none") || input == "-" {
		return "", nil
	}
	if strings.HasPrefix(input, "<") && strings.HasSuffix(input, ">") {
		input = strings.Trim(input, "<>")
		input = strings.TrimLeft(input, "#@!&")
		if strings.HasPrefix(input, "subteam^") {
			input = strings.TrimPrefix(input, "subteam^")
		}
		if i := strings.IndexByte(input, '|'); i >= 0 {
			input = input[:i]
		}
	}
	if input == "" {
		return "", fmt.Errorf("empty id")
	}
	if len(input) > 64 || strings.ContainsAny(input, " \t\n<>") {
		return "", fmt.Errorf("malformed id")
	}
	return input, nil
}

func parseNumber(input string, color bool) (int, error) {
	if color {
		lower := strings.ToLower(input)
		switch {
		case strings.HasPrefix(lower, "#"):
			v, err := strconv.ParseInt(lower[1:], 16, 32)
			return int(v), err
		case strings.HasPrefix(lower, "0x"):
			v, err := strconv.ParseInt(lower[2:], 16, 32)
			return int(v), err
		}
	}
	return strconv.Atoi(input)
}

func parseFlag(input string) (bool, error) {
	switch strings.ToLower(input) {
	case "true", "yes", "y", "on", "1":
		return true, nil
	case "false", "no", "n", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}

// OffHours reports whether hour falls outside [start, end) and how many hours
// remain until start. Windows with start > end wrap past midnight.
func OffHours(hour, start, end int) (bool, int) {
	var inside bool
	switch {
	case start == end:
		inside = true
	case start < end:
		inside = hour >= start && hour < end
	default:
		inside = hour >= start || hour < end
	}
	if inside {
		return false, 0
	}
	return true, ((start-hour)%24 + 24) % 24
}
