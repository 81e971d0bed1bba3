package contract

import (
	"time"
)

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry of an ordered prompt.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Priority orders the request queue. Lower values are served first; the
// zero value means "use the scene default".
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "default"
	}
}

func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	default:
		return PriorityDefault
	}
}

// Request asks the engine for one reply from one character.
type Request struct {
	Message      string   `json:"message"`
	Scene        string   `json:"scene"`
	RoleID       string   `json:"role_id"`
	Priority     Priority `json:"priority,omitempty"`
	ExtraContext []string `json:"extra_context,omitempty"`
	SkipCache    bool     `json:"skip_cache,omitempty"`
}

// GenerationParams carries the sampling settings resolved for one call.
type GenerationParams struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Label renders the gender the way the prompt expects it.
func (g Gender) Label() string {
	switch g {
	case GenderMale:
		return "男"
	case GenderFemale:
		return "女"
	default:
		return "其他"
	}
}

// Persona describes the human user talking to the characters.
type Persona struct {
	Name       string `json:"name" envconfig:"NAME"`
	Gender     Gender `json:"gender" envconfig:"GENDER"`
	Background string `json:"background" envconfig:"BACKGROUND"`
}

type Reminder struct {
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

type MemoryKind string

const (
	MemoryConversation MemoryKind = "conversation"
	MemoryReminder     MemoryKind = "reminder"
	MemoryPersona      MemoryKind = "persona"
)

type MemoryRecord struct {
	Kind      MemoryKind `json:"kind"`
	Content   string     `json:"content"`
	Scene     string     `json:"scene,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	QueueLength    int `json:"queue_length"`
	ActiveRequests int `json:"active_requests"`
	CacheSize      int `json:"cache_size"`
	MemorySize     int `json:"memory_size"`
	RoleCount      int `json:"role_count"`
}

var shanghai = loadShanghai()

func loadShanghai() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// DefaultLocation is the time zone used for prompts, schedules and narration.
func DefaultLocation() *time.Location {
	return shanghai
}
